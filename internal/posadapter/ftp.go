package posadapter

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

// DropboxOptions configures the FTP export fetcher.
type DropboxOptions struct {
	Timeout  time.Duration // default 30s
	Username string        // default "anonymous"
	Password string
}

// Dropbox fetches vendor export files from an FTP dropbox into the
// local export directory, where a FileAdapter picks them up.
type Dropbox struct {
	exportDir string
	opts      DropboxOptions
}

// NewDropbox creates a Dropbox downloading into exportDir.
func NewDropbox(exportDir string, opts DropboxOptions) *Dropbox {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Username == "" {
		opts.Username = "anonymous"
		opts.Password = "anonymous@"
	}
	return &Dropbox{exportDir: exportDir, opts: opts}
}

// Fetch downloads the export at ftpURL into the export directory under
// the given posType's name, keeping the remote file's extension.
// Returns the local path and bytes written.
func (d *Dropbox) Fetch(ctx context.Context, ftpURL, posType string) (string, int64, error) {
	host, remotePath, err := parseFTPURL(ftpURL)
	if err != nil {
		return "", 0, err
	}

	localPath := filepath.Join(d.exportDir, posType+filepath.Ext(remotePath))

	zap.L().Info("posadapter: fetching export from dropbox",
		zap.String("host", host),
		zap.String("pos_type", posType),
		zap.String("local_path", localPath),
	)

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(d.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return "", 0, eris.Wrap(err, "posadapter: ftp dial")
	}
	defer conn.Quit()

	if err := conn.Login(d.opts.Username, d.opts.Password); err != nil {
		return "", 0, eris.Wrap(err, "posadapter: ftp login")
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return "", 0, eris.Wrap(err, "posadapter: ftp retrieve")
	}
	defer resp.Close()

	if err := os.MkdirAll(d.exportDir, 0o755); err != nil {
		return "", 0, eris.Wrap(err, "posadapter: create export dir")
	}
	file, err := os.Create(localPath)
	if err != nil {
		return "", 0, eris.Wrap(err, "posadapter: create export file")
	}
	defer file.Close()

	n, err := io.Copy(file, resp)
	if err != nil {
		return "", n, eris.Wrap(err, "posadapter: write export file")
	}
	return localPath, n, nil
}

// parseFTPURL extracts host (with default port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "posadapter: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("posadapter: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	if u.Path == "" {
		return "", "", eris.New("posadapter: empty path in ftp url")
	}
	return host, u.Path, nil
}
