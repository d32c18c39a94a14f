//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ONNXRuntimeVersion matches the onnxruntime_go release fastembed-go links against.
const ONNXRuntimeVersion = "1.23.0"

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// ErrUnsupportedPlatform indicates no prebuilt runtime exists for GOOS/GOARCH.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var onnxPlatforms = map[string]string{
	"linux/amd64":  "linux-x64",
	"linux/arm64":  "linux-aarch64",
	"darwin/amd64": "osx-x86_64",
	"darwin/arm64": "osx-arm64",
}

func onnxLibraryName() string {
	if runtime.GOOS == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

func onnxInstallDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "docsearch", "lib")
	}
	return filepath.Join(".", "lib")
}

// ONNXLibraryPath returns ONNX_PATH when set, otherwise the managed install
// path if the library is present there, otherwise "".
func ONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	managed := filepath.Join(onnxInstallDir(), onnxLibraryName())
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// EnsureONNXRuntime makes the ONNX runtime available to fastembed-go,
// downloading the release archive into the user cache when missing, and
// exports ONNX_PATH.
func EnsureONNXRuntime(ctx context.Context, logger *zap.Logger) (string, error) {
	if p := ONNXLibraryPath(); p != "" {
		return p, os.Setenv("ONNX_PATH", p)
	}

	platform, ok := onnxPlatforms[runtime.GOOS+"/"+runtime.GOARCH]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}

	if logger != nil {
		logger.Info("downloading ONNX runtime",
			zap.String("version", ONNXRuntimeVersion),
			zap.String("platform", platform))
	}

	dest := onnxInstallDir()
	if err := downloadONNXRuntime(ctx, fmt.Sprintf(onnxReleaseURL, ONNXRuntimeVersion, platform, ONNXRuntimeVersion), dest); err != nil {
		return "", fmt.Errorf("installing ONNX runtime (set ONNX_PATH to use an existing install): %w", err)
	}

	p := filepath.Join(dest, onnxLibraryName())
	return p, os.Setenv("ONNX_PATH", p)
}

func downloadONNXRuntime(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return extractLibraries(resp.Body, dest)
}

// extractLibraries copies every file under the archive's lib/ directory
// into dest, preserving symlinks.
func extractLibraries(r io.Reader, dest string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	libName := onnxLibraryName()
	found := false

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.Contains(name, "/lib/") || header.Typeflag == tar.TypeDir {
			continue
		}

		filename := filepath.Base(name)
		target := filepath.Join(dest, filename)

		switch header.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				continue
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return err
			}
		default:
			continue
		}

		if strings.HasPrefix(filename, libName) {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
