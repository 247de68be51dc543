package ingest

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"shrike/internal/domain"
)

// nginxTimeLayout matches the access-log timestamp, e.g.
// 02/Jan/2006:15:04:05 -0700.
const nginxTimeLayout = "02/Jan/2006:15:04:05 -0700"

// combinedLogPattern parses the combined log format with the virtual host in
// the second field:
//
//	<ip> - <host> [<time>] "<method> <path> <proto>" <status> <bytes> "<referer>" "<agent>"
var combinedLogPattern = regexp.MustCompile(
	`^(\S+) - (\S+) \[([^\]]+)\] "(\S+) (\S+)(?: (\S+))?" (\d+) (\d+|-) "(.*?)" "(.*?)"$`,
)

// ParseLine turns one access-log line into a visit record. The request path
// is percent-decoded so downstream rules and queries operate on the decoded
// form; undecodable paths keep their raw bytes.
func ParseLine(line string) (*domain.VisitLog, error) {
	match := combinedLogPattern.FindStringSubmatch(line)
	if match == nil {
		return nil, fmt.Errorf("line does not match combined log format")
	}

	status, err := strconv.Atoi(match[7])
	if err != nil {
		return nil, fmt.Errorf("invalid status %q: %w", match[7], err)
	}

	var bytesSent int64
	if match[8] != "-" {
		bytesSent, err = strconv.ParseInt(match[8], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid byte count %q: %w", match[8], err)
		}
	}

	path := match[5]
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	timestamp, err := time.Parse(nginxTimeLayout, match[3])
	if err != nil {
		timestamp = time.Now()
	}

	return &domain.VisitLog{
		IP:            match[1],
		ProjectDomain: match[2],
		Method:        match[4],
		Path:          path,
		Status:        status,
		BytesSent:     bytesSent,
		Referer:       normalizeField(match[9]),
		UserAgent:     normalizeField(match[10]),
		Timestamp:     timestamp,
	}, nil
}

// normalizeField maps the log's "-" placeholder to an empty string.
func normalizeField(value string) string {
	if value == "-" {
		return ""
	}
	return value
}
