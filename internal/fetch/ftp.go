// Package fetch downloads polygon layer shapefiles from the configured FTP
// mirror and reports what is present locally.
package fetch

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Shapefile sidecar extensions a layer needs to be loadable.
var sidecarExts = []string{".shp", ".dbf", ".shx"}

// FTPOptions configures the layer fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher downloads layer files over FTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTPFetcher.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetch: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetch: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("fetch: empty path in ftp url")
	}
	return host, path, nil
}

// ftpConnReader closes the FTP response and connection together.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetch: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetch: quit ftp connection")
	}
	return nil
}

// Download retrieves one file and returns a reader. The caller must close it
// to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetch: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "fetch: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "fetch: ftp retrieve")
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// DownloadToFile downloads one FTP URL to a local path. Returns bytes
// written. Writes through a temp file so a failed download never leaves a
// truncated layer behind.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL, path string) (int64, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	tmp := path + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrapf(err, "fetch: create %s", tmp)
	}

	n, err := io.Copy(file, rc)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return n, eris.Wrapf(err, "fetch: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return n, eris.Wrapf(err, "fetch: finalize %s", path)
	}
	return n, nil
}

// FetchLayer downloads the shapefile sidecars for one layer basename from
// mirrorURL into dir.
func (f *FTPFetcher) FetchLayer(ctx context.Context, mirrorURL, dir, basename string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "fetch: create layer dir %s", dir)
	}
	for _, ext := range sidecarExts {
		name := basename + ext
		n, err := f.DownloadToFile(ctx, mirrorURL+"/"+name, filepath.Join(dir, name))
		if err != nil {
			return eris.Wrapf(err, "fetch: layer file %s", name)
		}
		zap.L().Info("fetch: layer file downloaded",
			zap.String("file", name),
			zap.Int64("bytes", n),
		)
	}
	return nil
}

// LayerStatus describes one layer's local presence.
type LayerStatus struct {
	UtilityType string
	Basename    string
	Present     bool
	Missing     []string // absent sidecar files
	SizeBytes   int64
	ModTime     time.Time
}

// Status reports the local state of each configured layer without touching
// the network.
func Status(dir string, files map[string]string) []LayerStatus {
	out := make([]LayerStatus, 0, len(files))
	for utilityType, basename := range files {
		st := LayerStatus{UtilityType: utilityType, Basename: basename, Present: true}
		for _, ext := range sidecarExts {
			path := filepath.Join(dir, basename+ext)
			info, err := os.Stat(path)
			if err != nil {
				st.Present = false
				st.Missing = append(st.Missing, basename+ext)
				continue
			}
			st.SizeBytes += info.Size()
			if info.ModTime().After(st.ModTime) {
				st.ModTime = info.ModTime()
			}
		}
		out = append(out, st)
	}
	return out
}
