package engine

import "fmt"

type UnexpectedResponseError struct {
	Response any
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response %T", e.Response)
}
