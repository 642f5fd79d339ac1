package richtext

import "fmt"

type InvalidOpError struct {
	Index int
}

func (e *InvalidOpError) Error() string {
	return fmt.Sprintf("op %d must carry exactly one of insert, retain or delete", e.Index)
}
