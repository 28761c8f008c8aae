package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/strongbox/internal/domain"
)

func TestLocalStorage(t *testing.T) {
	Convey("Given a LocalStorage", t, func() {
		tempDir, err := os.MkdirTemp("", "local_storage_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		Convey("NewLocal", func() {
			Convey("When creating with non-existent path", func() {
				newPath := filepath.Join(tempDir, "new", "nested", "dir")
				storage, err := NewLocal(newPath)

				Convey("It should create directory and succeed", func() {
					So(err, ShouldBeNil)
					So(storage, ShouldNotBeNil)

					info, err := os.Stat(newPath)
					So(err, ShouldBeNil)
					So(info.IsDir(), ShouldBeTrue)
				})
			})
		})

		Convey("List method", func() {
			storage, _ := NewLocal(tempDir)
			ctx := context.Background()

			Convey("When directory has archives and other files", func() {
				os.WriteFile(filepath.Join(tempDir, "backup_20240101_000000.tar.gz"), []byte("a"), 0644)
				os.WriteFile(filepath.Join(tempDir, "backup_20240301_000000.tar.gz"), []byte("bb"), 0644)
				os.WriteFile(filepath.Join(tempDir, "backup_20240201_000000.tar.gz"), []byte("ccc"), 0644)
				os.WriteFile(filepath.Join(tempDir, "schedules.json"), []byte("{}"), 0644)
				os.Mkdir(filepath.Join(tempDir, ".scratch"), 0755)

				archives, err := storage.List(ctx)

				Convey("It should list only archives, newest first", func() {
					So(err, ShouldBeNil)
					So(len(archives), ShouldEqual, 3)
					So(archives[0].Filename, ShouldEqual, "backup_20240301_000000.tar.gz")
					So(archives[1].Filename, ShouldEqual, "backup_20240201_000000.tar.gz")
					So(archives[2].Filename, ShouldEqual, "backup_20240101_000000.tar.gz")
					So(archives[0].Size, ShouldEqual, 2)
				})
			})

			Convey("When an archive name carries no timestamp", func() {
				path := filepath.Join(tempDir, "backup_manual.tar.gz")
				os.WriteFile(path, []byte("m"), 0644)
				mtime := time.Date(2023, 6, 1, 0, 0, 0, 0, time.Local)
				So(os.Chtimes(path, mtime, mtime), ShouldBeNil)

				archives, err := storage.List(ctx)

				Convey("It should fall back to the modification time", func() {
					So(err, ShouldBeNil)
					So(len(archives), ShouldEqual, 1)
					So(archives[0].CreatedAt.Equal(mtime), ShouldBeTrue)
				})
			})

			Convey("When directory is empty", func() {
				archives, err := storage.List(ctx)

				Convey("It should return empty list", func() {
					So(err, ShouldBeNil)
					So(len(archives), ShouldEqual, 0)
				})
			})
		})

		Convey("Delete method", func() {
			storage, _ := NewLocal(tempDir)
			ctx := context.Background()

			Convey("When deleting existing archive", func() {
				name := "backup_20240101_000000.tar.gz"
				os.WriteFile(filepath.Join(tempDir, name), []byte("x"), 0644)

				err := storage.Delete(ctx, name)

				Convey("It should delete successfully", func() {
					So(err, ShouldBeNil)
					_, err := os.Stat(filepath.Join(tempDir, name))
					So(os.IsNotExist(err), ShouldBeTrue)
				})
			})

			Convey("When deleting a missing archive", func() {
				err := storage.Delete(ctx, "backup_20240101_000000.tar.gz")

				Convey("It should return ErrArchiveNotFound", func() {
					So(errors.Is(err, domain.ErrArchiveNotFound), ShouldBeTrue)
				})
			})

			Convey("When the name is not an archive name", func() {
				os.WriteFile(filepath.Join(tempDir, "schedules.json"), []byte("{}"), 0644)
				err := storage.Delete(ctx, "schedules.json")
				errTraversal := storage.Delete(ctx, "../backup_20240101_000000.tar.gz")

				Convey("It should refuse and leave the file", func() {
					So(errors.Is(err, domain.ErrArchiveNotFound), ShouldBeTrue)
					So(errors.Is(errTraversal, domain.ErrArchiveNotFound), ShouldBeTrue)
					_, statErr := os.Stat(filepath.Join(tempDir, "schedules.json"))
					So(statErr, ShouldBeNil)
				})
			})
		})

		Convey("Stat method", func() {
			storage, _ := NewLocal(tempDir)
			name := "backup_20240101_101010.tar.gz"
			os.WriteFile(filepath.Join(tempDir, name), []byte("xyz"), 0644)

			archive, err := storage.Stat(context.Background(), name)

			Convey("It should describe the archive", func() {
				So(err, ShouldBeNil)
				So(archive.Size, ShouldEqual, 3)
				So(archive.Path, ShouldEqual, filepath.Join(tempDir, name))
				So(archive.CreatedAt.Format(domain.ArchiveTimestamp), ShouldEqual, "20240101_101010")
			})
		})
	})
}
