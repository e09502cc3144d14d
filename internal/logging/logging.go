package logging

// logging module provides various logging methods

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// helper function to unescape log messages
func utcMsg(data []byte) string {
	s := string(data)
	v, e := url.QueryUnescape(s)
	if e == nil {
		return v
	}
	return s
}

// custom rotate logger
type rotateLogWriter struct {
	RotateLogs *rotatelogs.RotateLogs
}

func (w rotateLogWriter) Write(data []byte) (int, error) {
	return w.RotateLogs.Write([]byte(utcMsg(data)))
}

// Setup configures standard logger flags and output. When logFile is set
// the output goes to daily rotated files.
func Setup(logFile string, verbose int) error {
	log.SetFlags(0)
	if verbose > 0 {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	if logFile == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	rl, err := rotatelogs.New(LogName(logFile), rotatelogs.WithMaxAge(30*24*time.Hour))
	if err != nil {
		return fmt.Errorf("unable to create rotate logs %s: %w", logFile, err)
	}
	log.SetOutput(rotateLogWriter{RotateLogs: rl})
	return nil
}

// LogName return proper log name based on log file name and either
// hostname or pod name (used in k8s environment).
func LogName(logFile string) string {
	hostname, err := os.Hostname()
	if err != nil {
		log.Println("unable to get hostname", err)
	}
	if os.Getenv("MY_POD_NAME") != "" {
		hostname = os.Getenv("MY_POD_NAME")
	}
	logName := logFile + "_%Y%m%d"
	if hostname != "" {
		logName = fmt.Sprintf("%s_%s", logFile, hostname) + "_%Y%m%d"
	}
	return logName
}

// LogRequest logs every single user request
func LogRequest(r *http.Request, start time.Time, status int, bytesOut int64) {
	log.Print(RequestLine(r, start, status, bytesOut))
}

// RequestLine formats access log line of the request
func RequestLine(r *http.Request, start time.Time, status int, bytesOut int64) string {
	if status == 0 { // the status code was not set, i.e. everything is fine
		status = http.StatusOK
	}
	dataMsg := fmt.Sprintf("[data: %v in %v out]", r.ContentLength, bytesOut)
	referer := r.Referer()
	if referer == "" {
		referer = "-"
	}
	refMsg := fmt.Sprintf("[ref: \"%s\" \"%v\"]", referer, r.Header.Get("User-Agent"))
	respMsg := fmt.Sprintf("[req: %v]", time.Since(start))
	uri, err := url.QueryUnescape(r.RequestURI)
	if err != nil {
		uri = r.RequestURI
	}
	t := time.Now().Format(time.RFC3339)
	return fmt.Sprintf("%s %s %d %s %s %s %s %s %s\n", t, r.Proto, status, r.RemoteAddr, r.Method, uri, dataMsg, refMsg, respMsg)
}
