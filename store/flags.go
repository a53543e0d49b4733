package store

import "os"

func flagCreateReadWrite() int {
	return os.O_CREATE | os.O_RDWR
}
