package downloader

import (
	"fmt"
	"os"
	"time"
)

// NewSessionID returns an identifier for one run of the program
// (hostname, pid and start time), used to group the download history.
func NewSessionID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), time.Now().UTC().Format("20060102T150405"))
}
