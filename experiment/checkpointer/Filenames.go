package checkpointer

import (
	"fmt"
	"time"
)

// FilenameEnumerator returns a function which returns filenames with
// an integer counter suffix. Each call of the returned function
// increments the counter, starting from start + 1. The filename
// parameter is the full filename with its path, and extension is
// appended after the counter.
func FilenameEnumerator(start int, filename, extension string) func() string {
	i := start
	return func() string {
		i++
		return fmt.Sprintf("%v%v%v", filename, i, extension)
	}
}

// FileTimer returns a function which appends the number of nanoseconds
// since January 1, 1970 to a filename.
func FileTimer(filename, extension string) func() string {
	return func() string {
		return fmt.Sprintf("%v-%v%v", filename, time.Now().UnixNano(),
			extension)
	}
}
