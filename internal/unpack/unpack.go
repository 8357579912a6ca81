package unpack

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"quarantine/internal/fileutil"
	"quarantine/internal/services"
)

// Format names a supported archive container.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTar   Format = "tar"
	FormatGzip  Format = "gzip"
	FormatBzip2 Format = "bzip2"
)

var (
	// ErrUnsafePath reports a member name that is absolute or climbs out of
	// the archive root.
	ErrUnsafePath = errors.New("archive member escapes the archive root")
	// ErrTooManyMembers reports an archive above Limits.MaxMembers.
	ErrTooManyMembers = errors.New("archive has too many members")
	// ErrTooLarge reports a member or archive expanding past its byte limit.
	ErrTooLarge = errors.New("archive expands beyond size limit")
)

// Limits caps a single expansion.
type Limits struct {
	MaxMembers     int
	MaxMemberBytes int64
	MaxTotalBytes  int64
}

// Member is one staged archive member.
type Member struct {
	// Name is the cleaned slash-separated path inside the archive.
	Name       string
	ID         string
	StagedPath string
	Size       int64
}

// Result lists what an expansion staged.
type Result struct {
	Format  Format
	Members []Member
	// Skipped counts directories, links, special files and encrypted members.
	Skipped int
}

// Detect sniffs path and returns its archive format, or "" when it is not an
// archive this package expands. Zip-based containers such as jar or docx
// count as zip.
func Detect(path string) (Format, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return FormatZip, nil
		case m.Is("application/x-tar"):
			return FormatTar, nil
		case m.Is("application/gzip"):
			return FormatGzip, nil
		case m.Is("application/x-bzip2"):
			return FormatBzip2, nil
		}
	}
	return "", nil
}

// Expand stages the members of the archive at archivePath into stagingDir.
// Any refusal or I/O failure removes the copies this call created.
func Expand(ctx context.Context, archivePath string, format Format, stagingDir string, limits Limits) (Result, error) {
	x := &expansion{ctx: ctx, stagingDir: stagingDir, limits: limits, result: Result{Format: format}}
	var err error
	switch format {
	case FormatZip:
		err = x.zip(archivePath)
	case FormatTar:
		err = x.file(archivePath, func(r io.Reader) (io.Reader, error) { return r, nil })
	case FormatGzip:
		err = x.file(archivePath, func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) })
	case FormatBzip2:
		err = x.file(archivePath, func(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil })
	default:
		err = fmt.Errorf("%w: unsupported archive format %q", services.ErrUnsupported, format)
	}
	if err != nil {
		x.rollback()
		return Result{Format: format}, err
	}
	return x.result, nil
}

type expansion struct {
	ctx        context.Context
	stagingDir string
	limits     Limits
	result     Result
	total      int64
	created    []string
}

func (x *expansion) zip(archivePath string) error {
	r, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		if r != nil {
			_ = r.Close()
		}
		return refuse(ErrUnsafePath, archivePath)
	}
	if err != nil {
		return fmt.Errorf("%w: open zip: %v", services.ErrRejected, err)
	}
	defer r.Close()

	if len(r.File) > x.limits.MaxMembers {
		return refuse(ErrTooManyMembers, fmt.Sprintf("%d members, limit %d", len(r.File), x.limits.MaxMembers))
	}
	names := make([]string, len(r.File))
	for i, f := range r.File {
		name, err := cleanName(f.Name)
		if err != nil {
			return err
		}
		names[i] = name
	}

	for i, f := range r.File {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		const encrypted = 0x1
		if !f.Mode().IsRegular() || f.Flags&encrypted != 0 {
			x.result.Skipped++
			continue
		}
		limit := x.memberLimit()
		if f.UncompressedSize64 > uint64(limit) {
			return refuse(ErrTooLarge, fmt.Sprintf("%s declares %d bytes", names[i], f.UncompressedSize64))
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: open zip member %s: %v", services.ErrRejected, names[i], err)
		}
		err = x.stage(names[i], rc, limit)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// file expands a tar stream, or a single compressed file when the
// decompressed stream is not a tar.
func (x *expansion) file(archivePath string, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "ingest", "open archive", "Unable to open staged archive", err)
	}
	defer f.Close()

	raw, err := decompress(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%w: decompress: %v", services.ErrRejected, err)
	}
	stream := bufio.NewReaderSize(raw, 4096)
	head, err := stream.Peek(1024)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decompress: %v", services.ErrRejected, err)
	}
	if x.result.Format != FormatTar && !mimetype.Detect(head).Is("application/x-tar") {
		return x.stage(innerName(archivePath, raw), stream, x.memberLimit())
	}
	return x.tar(tar.NewReader(stream))
}

func (x *expansion) tar(tr *tar.Reader) error {
	seen := 0
	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return refuse(ErrUnsafePath, "tar member")
		}
		if err != nil {
			return fmt.Errorf("%w: read tar: %v", services.ErrRejected, err)
		}
		seen++
		if seen > x.limits.MaxMembers {
			return refuse(ErrTooManyMembers, fmt.Sprintf("more than %d members", x.limits.MaxMembers))
		}
		name, err := cleanName(hdr.Name)
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeLink || !hdr.FileInfo().Mode().IsRegular() {
			x.result.Skipped++
			continue
		}
		limit := x.memberLimit()
		if hdr.Size > limit {
			return refuse(ErrTooLarge, fmt.Sprintf("%s declares %d bytes", name, hdr.Size))
		}
		if err := x.stage(name, tr, limit); err != nil {
			return err
		}
	}
}

func (x *expansion) memberLimit() int64 {
	return max(0, min(x.limits.MaxMemberBytes, x.limits.MaxTotalBytes-x.total))
}

func (x *expansion) stage(name string, r io.Reader, limit int64) error {
	id, size, created, err := fileutil.StageStream(r, x.stagingDir, limit)
	switch {
	case errors.Is(err, fileutil.ErrTooLarge):
		return refuse(ErrTooLarge, name)
	case err != nil:
		return services.Wrap(services.ErrTransient, "ingest", "stage member",
			fmt.Sprintf("Unable to stage archive member %s", name), err)
	}
	stagedPath := filepath.Join(x.stagingDir, id)
	if created {
		x.created = append(x.created, stagedPath)
	}
	x.total += size
	x.result.Members = append(x.result.Members, Member{Name: name, ID: id, StagedPath: stagedPath, Size: size})
	return nil
}

func (x *expansion) rollback() {
	for _, p := range x.created {
		_ = os.Remove(p)
	}
	x.created = nil
}

func refuse(reason error, detail string) error {
	return fmt.Errorf("%w: %w: %s", services.ErrRejected, reason, detail)
}

// cleanName normalizes a member name and refuses names that are absolute,
// drive-qualified or climb out of the archive root.
func cleanName(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if slashed == "" || strings.ContainsRune(slashed, 0) || path.IsAbs(slashed) ||
		(len(slashed) >= 2 && slashed[1] == ':') {
		return "", refuse(ErrUnsafePath, name)
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", refuse(ErrUnsafePath, name)
	}
	return cleaned, nil
}

// innerName names the payload of a single-file gzip or bzip2 stream.
func innerName(archivePath string, r io.Reader) string {
	if gz, ok := r.(*gzip.Reader); ok {
		if name, err := cleanName(gz.Name); err == nil && name != "." {
			return path.Base(name)
		}
	}
	base := filepath.Base(archivePath)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base + ".out"
}
