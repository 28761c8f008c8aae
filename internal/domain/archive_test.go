package domain

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestArchiveFilename(t *testing.T) {
	Convey("Given archive filenames", t, func() {
		created := time.Date(2024, 5, 17, 3, 4, 5, 0, time.Local)

		Convey("They should encode and decode the creation time", func() {
			name := ArchiveFilename(created)
			So(name, ShouldEqual, "backup_20240517_030405.tar.gz")

			parsed, ok := ParseArchiveFilename(name)
			So(ok, ShouldBeTrue)
			So(parsed.Equal(created), ShouldBeTrue)
		})

		Convey("Foreign names should not parse", func() {
			for _, name := range []string{"notes.txt", "backup_.tar.gz", "backup_x.tar.gz", "../backup_20240517_030405.tar.gz"} {
				_, ok := ParseArchiveFilename(name)
				So(ok, ShouldBeFalse)
			}
			So(IsArchiveFilename("backup_manual.tar.gz"), ShouldBeTrue)
			So(IsArchiveFilename("sub/backup_manual.tar.gz"), ShouldBeFalse)
		})
	})
}
