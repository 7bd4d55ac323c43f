package fetch

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultEndpoint serves files by ID
const DefaultEndpoint = "https://docs.google.com/uc?export=download"

// DriveURL builds the download URL for a file ID. confirm skips the virus scan warning page
// that is shown for large files.
func DriveURL(endpoint, fileID, confirm string) (string, error) {
	if fileID == "" {
		return "", eris.New("Missing file ID")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", eris.Wrapf(err, "Invalid endpoint %s", endpoint)
	}

	q := u.Query()
	q.Set("id", fileID)
	if confirm != "" {
		q.Set("confirm", confirm)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// confirmToken returns the token from a download_warning cookie if the server asked for one
func confirmToken(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if strings.HasPrefix(cookie.Name, "download_warning") {
			return cookie.Value
		}
	}

	return ""
}
