package unpack_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"quarantine/internal/services"
	"quarantine/internal/testsupport"
	"quarantine/internal/unpack"
)

type member struct {
	name string
	body string
	dir  bool
	link string
}

var roomy = unpack.Limits{MaxMembers: 10, MaxMemberBytes: 1 << 20, MaxTotalBytes: 4 << 20}

func writeZip(t *testing.T, members ...member) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		if !m.dir {
			_, err = w.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(t.TempDir(), "sample.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func tarBytes(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(m.body))}
		switch {
		case m.dir:
			hdr.Typeflag, hdr.Size, hdr.Mode = tar.TypeDir, 0, 0o755
		case m.link != "":
			hdr.Typeflag, hdr.Size, hdr.Linkname = tar.TypeSymlink, 0, m.link
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = name
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "staging should hold nothing after a refused archive")
}

func TestDetect(t *testing.T) {
	tarball := tarBytes(t, member{name: "a.txt", body: "alpha"})
	cases := []struct {
		name string
		path string
		want unpack.Format
	}{
		{"zip", writeZip(t, member{name: "a.txt", body: "alpha"}), unpack.FormatZip},
		{"tar", writeArchive(t, "a.tar", tarball), unpack.FormatTar},
		{"tar.gz", writeArchive(t, "a.tgz", gzipBytes(t, "", tarball)), unpack.FormatGzip},
		{"plain text", writeArchive(t, "notes.txt", []byte("just some notes\n")), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := unpack.Detect(tc.path)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExpandZipStagesMembersByDigest(t *testing.T) {
	staging := t.TempDir()
	archive := writeZip(t,
		member{name: "readme.txt", body: "hello"},
		member{name: "bin/", dir: true},
		member{name: "bin/dropper.exe", body: "MZ payload"},
	)

	result, err := unpack.Expand(context.Background(), archive, unpack.FormatZip, staging, roomy)
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Len(t, result.Members, 2)

	require.Equal(t, "readme.txt", result.Members[0].Name)
	require.Equal(t, "bin/dropper.exe", result.Members[1].Name)
	for _, m := range result.Members {
		require.Equal(t, filepath.Join(staging, m.ID), m.StagedPath)
		data, err := os.ReadFile(m.StagedPath)
		require.NoError(t, err)
		require.Equal(t, testsupport.SHA256(data), m.ID)
		require.Equal(t, int64(len(data)), m.Size)
	}
}

func TestExpandTarGzipSkipsLinks(t *testing.T) {
	staging := t.TempDir()
	tarball := tarBytes(t,
		member{name: "./docs/", dir: true},
		member{name: "./docs/invoice.pdf", body: "%PDF-1.7"},
		member{name: "./docs/passwd", link: "/etc/passwd"},
	)
	archive := writeArchive(t, "bundle.tar.gz", gzipBytes(t, "", tarball))

	result, err := unpack.Expand(context.Background(), archive, unpack.FormatGzip, staging, roomy)
	require.NoError(t, err)
	require.Equal(t, 2, result.Skipped)
	require.Len(t, result.Members, 1)
	require.Equal(t, "docs/invoice.pdf", result.Members[0].Name)
	require.Equal(t, testsupport.SHA256([]byte("%PDF-1.7")), result.Members[0].ID)
}

func TestExpandSingleGzipFile(t *testing.T) {
	staging := t.TempDir()
	archive := writeArchive(t, "payload.gz", gzipBytes(t, "payload.bin", []byte("not a tarball")))

	result, err := unpack.Expand(context.Background(), archive, unpack.FormatGzip, staging, roomy)
	require.NoError(t, err)
	require.Len(t, result.Members, 1)
	require.Equal(t, "payload.bin", result.Members[0].Name)
	require.Equal(t, testsupport.SHA256([]byte("not a tarball")), result.Members[0].ID)
}

func TestExpandRejectsUnsafeNames(t *testing.T) {
	cases := []struct {
		name    string
		archive func(t *testing.T) string
		format  unpack.Format
	}{
		{"zip parent traversal", func(t *testing.T) string {
			return writeZip(t, member{name: "ok.txt", body: "fine"}, member{name: "../../etc/cron.d/job", body: "evil"})
		}, unpack.FormatZip},
		{"zip backslash traversal", func(t *testing.T) string {
			return writeZip(t, member{name: `..\windows\evil.dll`, body: "evil"})
		}, unpack.FormatZip},
		{"tar absolute", func(t *testing.T) string {
			return writeArchive(t, "abs.tar", tarBytes(t, member{name: "good.txt", body: "fine"}, member{name: "/etc/passwd", body: "evil"}))
		}, unpack.FormatTar},
		{"tar drive letter", func(t *testing.T) string {
			return writeArchive(t, "drive.tar", tarBytes(t, member{name: "C:/boot.ini", body: "evil"}))
		}, unpack.FormatTar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			staging := t.TempDir()
			_, err := unpack.Expand(context.Background(), tc.archive(t), tc.format, staging, roomy)
			require.ErrorIs(t, err, unpack.ErrUnsafePath)
			require.ErrorIs(t, err, services.ErrRejected)
			require.True(t, services.IsPermanent(err))
			requireEmptyDir(t, staging)
		})
	}
}

func TestExpandMemberCountLimit(t *testing.T) {
	limits := roomy
	limits.MaxMembers = 2
	members := []member{{name: "a", body: "1"}, {name: "b", body: "2"}, {name: "c", body: "3"}}

	t.Run("zip", func(t *testing.T) {
		staging := t.TempDir()
		_, err := unpack.Expand(context.Background(), writeZip(t, members...), unpack.FormatZip, staging, limits)
		require.ErrorIs(t, err, unpack.ErrTooManyMembers)
		requireEmptyDir(t, staging)
	})
	t.Run("tar removes members staged before the limit", func(t *testing.T) {
		staging := t.TempDir()
		archive := writeArchive(t, "many.tar", tarBytes(t, members...))
		_, err := unpack.Expand(context.Background(), archive, unpack.FormatTar, staging, limits)
		require.ErrorIs(t, err, unpack.ErrTooManyMembers)
		requireEmptyDir(t, staging)
	})
}

func TestExpandSizeLimits(t *testing.T) {
	big := string(bytes.Repeat([]byte("A"), 64))

	t.Run("member", func(t *testing.T) {
		staging := t.TempDir()
		limits := unpack.Limits{MaxMembers: 10, MaxMemberBytes: 32, MaxTotalBytes: 1024}
		_, err := unpack.Expand(context.Background(), writeZip(t, member{name: "bomb", body: big}), unpack.FormatZip, staging, limits)
		require.ErrorIs(t, err, unpack.ErrTooLarge)
		require.ErrorIs(t, err, services.ErrRejected)
		requireEmptyDir(t, staging)
	})
	t.Run("total", func(t *testing.T) {
		staging := t.TempDir()
		limits := unpack.Limits{MaxMembers: 10, MaxMemberBytes: 64, MaxTotalBytes: 100}
		archive := writeArchive(t, "total.tar", tarBytes(t, member{name: "one", body: big}, member{name: "two", body: big + "B"}))
		_, err := unpack.Expand(context.Background(), archive, unpack.FormatTar, staging, limits)
		require.ErrorIs(t, err, unpack.ErrTooLarge)
		requireEmptyDir(t, staging)
	})
}

func TestExpandCorruptArchiveIsRejected(t *testing.T) {
	staging := t.TempDir()
	archive := writeArchive(t, "broken.zip", []byte("PK\x03\x04 truncated"))
	_, err := unpack.Expand(context.Background(), archive, unpack.FormatZip, staging, roomy)
	require.ErrorIs(t, err, services.ErrRejected)
}
