package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

const (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	countryEdition     = "GeoLite2-Country"
)

// ErrNoLicenseKey means MAXMIND_LICENSE_KEY is not configured.
var ErrNoLicenseKey = errors.New("geolite: license key is not configured")

// Updater downloads the country edition and reloads Countries from it.
type Updater struct {
	client     *http.Client
	licenseKey string
	baseURL    string
	countries  *Countries
	group      singleflight.Group
}

func NewUpdater(client *http.Client, licenseKey string, countries *Countries) *Updater {
	if client == nil {
		client = http.DefaultClient
	}
	return &Updater{
		client:     client,
		licenseKey: strings.TrimSpace(licenseKey),
		baseURL:    maxMindDownloadURL,
		countries:  countries,
	}
}

func (u *Updater) Enabled() bool {
	return u != nil && u.licenseKey != "" && u.countries != nil && u.countries.path != ""
}

// Update downloads the edition archive, replaces the database file and
// reloads it. Concurrent calls share one download.
func (u *Updater) Update(ctx context.Context) error {
	if !u.Enabled() {
		return ErrNoLicenseKey
	}
	_, err, _ := u.group.Do("update", func() (interface{}, error) {
		if err := u.download(ctx); err != nil {
			return nil, err
		}
		return nil, u.countries.Reload()
	})
	return err
}

func (u *Updater) download(ctx context.Context) error {
	q := url.Values{}
	q.Set("edition_id", countryEdition)
	q.Set("license_key", u.licenseKey)
	q.Set("suffix", "tar.gz")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", countryEdition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", countryEdition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return extractDatabase(resp.Body, countryEdition+".mmdb", u.countries.path)
}

// extractDatabase copies the tar.gz member named filename to destPath.
func extractDatabase(archive io.Reader, filename, destPath string) error {
	gz, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s not found in archive", filename)
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != filename {
			continue
		}
		return writeToFile(destPath, tr)
	}
}

func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
