// Package tools fetches the pinned helper binaries a deployment relies on,
// for example a node runtime for the asset build. Every download is verified
// against a sha256 checksum from TOOLS.yml and recorded in TOOLS.stamps so
// unchanged tools are never fetched twice.
package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestFile lists the tools to fetch, relative to the project root.
	ManifestFile = "TOOLS.yml"
	// StampFile records which tool versions are already unpacked.
	StampFile = "TOOLS.stamps"
)

// Spec describes a single downloadable tool.
type Spec struct {
	// URL may contain {OS} and {ARCH} placeholders plus {NAME} placeholders
	// for the manifest's vars section.
	URL    string
	Dest   string
	Sha256 string
	// Strip removes that many leading path elements while unpacking.
	Strip int
	// Platforms restricts the tool to the listed GOOS-GOARCH pairs, for
	// example "linux-amd64". Empty means every platform.
	Platforms []string
	// MarkExec lists files below Dest that need their executable bit set
	// after unpacking, which zip archives don't preserve.
	MarkExec []string `yaml:"markExec"`
}

// wantedOn reports whether the spec applies to the given GOOS-GOARCH pair.
func (s Spec) wantedOn(platform string) bool {
	if len(s.Platforms) == 0 {
		return true
	}

	for _, candidate := range s.Platforms {
		if candidate == platform {
			return true
		}
	}

	return false
}

// Manifest is the parsed TOOLS.yml.
type Manifest struct {
	Vars  map[string]string
	Tools map[string]Spec
}

// LoadManifest reads and parses the TOOLS.yml below the given root.
func LoadManifest(root string) (*Manifest, error) {
	path := filepath.Join(root, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to read %s", path)
	}

	manifest := Manifest{}
	err = yaml.Unmarshal(data, &manifest)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse %s", path)
	}

	return &manifest, nil
}

// resolveURL expands the {VAR} placeholders in a tool URL.
func (m *Manifest) resolveURL(url string) string {
	expanded := strings.NewReplacer("{OS}", runtime.GOOS, "{ARCH}", runtime.GOARCH).Replace(url)
	for name, value := range m.Vars {
		expanded = strings.ReplaceAll(expanded, "{"+name+"}", value)
	}

	return expanded
}

// Fetcher downloads and unpacks the tools from a manifest.
type Fetcher struct {
	// Root is the project root; Dest paths and the stamp file live below it.
	Root string
	// Update records new checksums for mismatched downloads instead of
	// failing on them.
	Update bool
	// Quiet suppresses the download progress bars.
	Quiet bool
	// Platform overrides the GOOS-GOARCH pair used for platform filters.
	Platform string
	// Announce, when set, is called before each tool downloads.
	Announce func(name, url string)
	// Client is the HTTP client used for downloads.
	Client *http.Client
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}

	return &http.Client{Timeout: 30 * time.Minute}
}

func (f *Fetcher) platform() string {
	if f.Platform != "" {
		return f.Platform
	}

	return runtime.GOOS + "-" + runtime.GOARCH
}

func (f *Fetcher) progress(length int64, name string) io.Writer {
	if f.Quiet {
		return io.Discard
	}

	return progressbar.DefaultBytes(length, name)
}

// FetchAll downloads every tool that applies to this platform and isn't
// unpacked and stamped yet. It returns the checksums that changed, which can
// only happen in update mode. Stamps for completed tools are written even
// when a later tool fails.
func (f *Fetcher) FetchAll(manifest *Manifest) (map[string]string, error) {
	stamps, err := readStamps(f.Root)
	if err != nil {
		return nil, err
	}
	defer writeStamps(f.Root, stamps)

	changed := map[string]string{}
	for name, spec := range manifest.Tools {
		if !spec.wantedOn(f.platform()) {
			continue
		}

		spec.URL = manifest.resolveURL(spec.URL)
		token := spec.URL + "#" + spec.Sha256
		if stamps[name] == token && pathExists(filepath.Join(f.Root, spec.Dest)) {
			continue
		}

		if f.Announce != nil {
			f.Announce(name, spec.URL)
		}

		digest, err := f.fetch(name, spec)
		if err != nil {
			return changed, eris.Wrapf(err, "Failed to fetch %s", name)
		}

		if digest != spec.Sha256 {
			if !f.Update {
				return changed, eris.Errorf("Checksum mismatch for %s: expected %s, got %s", name, spec.Sha256, digest)
			}

			changed[name] = digest
			token = spec.URL + "#" + digest
		}

		stamps[name] = token
	}

	return changed, nil
}

// fetch downloads a single tool, verifies it and unpacks it below Dest. It
// returns the digest of the downloaded archive. On a checksum mismatch
// outside update mode, nothing is unpacked.
func (f *Fetcher) fetch(name string, spec Spec) (string, error) {
	archive, err := os.CreateTemp(f.Root, "tool-*.download")
	if err != nil {
		return "", eris.Wrap(err, "Failed to create the download file")
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	resp, err := f.client().Get(spec.URL)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to download %s", spec.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("%s returned status %s", spec.URL, resp.Status)
	}

	hash := sha256.New()
	_, err = io.Copy(io.MultiWriter(archive, hash, f.progress(resp.ContentLength, name)), resp.Body)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to download %s", spec.URL)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != spec.Sha256 && !f.Update {
		return digest, nil
	}

	dest := filepath.Join(f.Root, spec.Dest)
	if err := os.RemoveAll(dest); err != nil {
		return digest, eris.Wrapf(err, "Failed to clear %s", dest)
	}

	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return digest, eris.Wrap(err, "Failed to rewind the download")
	}

	if err := unpack(archive, spec.URL, dest, spec.Strip); err != nil {
		return digest, err
	}

	if runtime.GOOS != "windows" {
		for _, bin := range spec.MarkExec {
			target := filepath.Join(dest, bin)
			info, err := os.Stat(target)
			if err != nil {
				return digest, eris.Wrapf(err, "Failed to check %s", target)
			}

			if err := os.Chmod(target, info.Mode()|0700); err != nil {
				return digest, eris.Wrapf(err, "Failed to mark %s as executable", target)
			}
		}
	}

	return digest, nil
}

// UpdateChecksums rewrites the sha256 entries for the given tools in
// TOOLS.yml. The file is edited line by line so comments and ordering
// survive; every tool must already carry a sha256 key, an empty value works
// for the first update run.
func UpdateChecksums(root string, changes map[string]string) error {
	path := filepath.Join(root, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "Failed to read %s", path)
	}

	applied := map[string]bool{}
	lines := strings.Split(string(data), "\n")
	section := ""
	tool := ""

	for idx, line := range lines {
		trimmed := strings.TrimSpace(line)
		indent := len(line) - len(strings.TrimLeft(line, " "))

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			continue
		case indent == 0:
			section = strings.TrimSuffix(trimmed, ":")
			tool = ""
		case indent == 2 && section == "tools" && strings.HasSuffix(trimmed, ":"):
			tool = strings.TrimSuffix(trimmed, ":")
		case tool != "" && strings.HasPrefix(trimmed, "sha256:"):
			if digest, wanted := changes[tool]; wanted {
				lines[idx] = strings.Repeat(" ", indent) + "sha256: " + digest
				applied[tool] = true
			}
		}
	}

	for name := range changes {
		if !applied[name] {
			return eris.Errorf("No sha256 entry found for %s in %s", name, path)
		}
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0660)
}

func readStamps(root string) (map[string]string, error) {
	stamps := map[string]string{}

	data, err := os.ReadFile(filepath.Join(root, StampFile))
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrap(err, "Failed to read the stamp file")
	}

	if err := json.Unmarshal(data, &stamps); err != nil {
		return nil, eris.Wrap(err, "Failed to parse the stamp file")
	}

	return stamps, nil
}

// writeStamps persists the stamps on a best effort basis; a failed stamp
// write only costs a redundant download next time.
func writeStamps(root string, stamps map[string]string) {
	data, err := json.Marshal(stamps)
	if err == nil {
		err = os.WriteFile(filepath.Join(root, StampFile), data, 0660)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write the stamp file: %v\n", err)
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
