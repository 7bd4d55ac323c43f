package fetch

import "github.com/rotisserie/eris"

var (
	// ErrNoContentLength is returned when the server doesn't announce the download size
	ErrNoContentLength = eris.New("response has no content length")
	// ErrChecksumMismatch is returned when a download doesn't match the expected sha256
	ErrChecksumMismatch = eris.New("checksum check failed")
	// ErrUnsupportedArchive is returned for archive names without a known extractor
	ErrUnsupportedArchive = eris.New("archive format not supported")
	// ErrUnsafePath is returned for archive entries that would be written outside the destination
	ErrUnsafePath = eris.New("archive entry escapes the destination directory")
)
