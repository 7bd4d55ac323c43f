package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"time"

	units "github.com/jedib0t/go-pretty/v6/progress"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/helcl42/PreVEngine/pkg/logging"
)

// DefaultChunkSize is the read size used while streaming a download to disk
const DefaultChunkSize = 32 * 1024

// Progress tracks a running transfer
type Progress struct {
	Done  int64
	Total int64
	// Speed is the recent transfer rate in bytes per second
	Speed float64
}

// Percent returns the completed share in percent. It is 100 only once Done equals Total.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}

	return float64(p.Done) / float64(p.Total) * 100.0
}

// Downloader streams remote archives to local files
type Downloader struct {
	Client    *http.Client
	ChunkSize int
	// Quiet hides the progress bar
	Quiet bool
	// OnProgress is called after every chunk. Without it, progress is logged whenever the
	// progress bar is hidden.
	OnProgress func(Progress)
}

// NewDownloader creates a Downloader with the given per-request timeout and chunk size
func NewDownloader(timeout time.Duration, chunkSize int) *Downloader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Downloader{
		Client: &http.Client{
			Timeout: timeout,
		},
		ChunkSize: chunkSize,
	}
}

func barHidden(quiet bool) bool {
	return quiet || os.Getenv("CI") == "true"
}

func newProgressBar(length int64, desc string, quiet bool) *progressbar.ProgressBar {
	if barHidden(quiet) {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// LogProgress returns an OnProgress callback which logs "Downloaded X from Y - P%" each time
// another step percent of the transfer completed, and once more at the end.
func LogProgress(ctx context.Context, step float64) func(Progress) {
	next := step
	return func(p Progress) {
		pct := p.Percent()
		if pct < next && p.Done < p.Total {
			return
		}

		for next <= pct {
			next += step
		}

		logging.Log(ctx).Info().
			Float64("percent", pct).
			Int64("done", p.Done).
			Int64("total", p.Total).
			Msgf("Downloaded %s from %s - %.0f%%", units.FormatBytes(p.Done), units.FormatBytes(p.Total), pct)
	}
}

// Download streams rawURL into w and returns the hex encoded sha256 digest of the payload
func (d *Downloader) Download(ctx context.Context, rawURL string, w io.Writer) (string, error) {
	resp, err := d.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return d.save(ctx, resp, rawURL, w)
}

// DownloadFile fetches a file by ID from endpoint. If the server answers with a
// download_warning cookie, the request is repeated with the confirmation token.
func (d *Downloader) DownloadFile(ctx context.Context, endpoint, fileID string, w io.Writer) (string, error) {
	link, err := DriveURL(endpoint, fileID, "1")
	if err != nil {
		return "", err
	}

	resp, err := d.get(ctx, link)
	if err != nil {
		return "", err
	}

	token := confirmToken(resp)
	if token != "" {
		resp.Body.Close()

		link, err = DriveURL(endpoint, fileID, token)
		if err != nil {
			return "", err
		}

		resp, err = d.get(ctx, link)
		if err != nil {
			return "", err
		}
	}
	defer resp.Body.Close()

	return d.save(ctx, resp, link, w)
}

func (d *Downloader) get(ctx context.Context, link string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "Invalid URL %s", link)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to start download for %s", link)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, eris.Errorf("Download of %s failed with status %s", link, resp.Status)
	}

	return resp, nil
}

func (d *Downloader) save(ctx context.Context, resp *http.Response, link string, w io.Writer) (string, error) {
	total := resp.ContentLength
	if total <= 0 {
		return "", eris.Wrapf(ErrNoContentLength, "Can't download %s", link)
	}

	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	hash := sha256.New()
	bar := newProgressBar(total, "     download", d.Quiet)
	buf := make([]byte, chunkSize)
	progress := Progress{Total: total}
	speed := NewSpeedTracker()
	report := d.OnProgress
	if report == nil && barHidden(d.Quiet) {
		report = LogProgress(ctx, 10)
	}

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			// hash.Hash never returns an error
			hash.Write(buf[:n])

			_, wErr := w.Write(buf[:n])
			if wErr != nil {
				return "", eris.Wrap(wErr, "Failed to write download to disk")
			}

			bar.Write(buf[:n])
			progress.Done += int64(n)
			speed.Track(n)
			progress.Speed = speed.Speed()
			if report != nil {
				report(progress)
			}
		}

		if err != nil {
			if err == io.EOF {
				break
			}
			return "", eris.Wrapf(err, "Failed during download of %s", link)
		}
	}
	bar.Finish()

	if progress.Done != total {
		return "", eris.Errorf("Download of %s is incomplete: got %d of %d bytes", link, progress.Done, total)
	}

	logging.Log(ctx).Debug().
		Int64("bytes", progress.Done).
		Msgf("Downloaded %d bytes (%.1f KiB/s)", progress.Done, progress.Speed/1024)

	return hex.EncodeToString(hash.Sum(nil)), nil
}
