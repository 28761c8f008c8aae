package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/strongbox/internal/infrastructure/logger"
)

func TestScheduler(t *testing.T) {
	Convey("Given a Scheduler", t, func() {
		Convey("New function", func() {
			scheduler := New(logger.NewNop())

			Convey("It should create a new scheduler successfully", func() {
				So(scheduler, ShouldNotBeNil)
				So(scheduler.cron, ShouldNotBeNil)
			})
		})

		Convey("AddJob function", func() {
			scheduler := New(logger.NewNop())

			Convey("When adding a job with a valid cron spec", func() {
				tempDir, err := os.MkdirTemp("", "scheduler_test")
				So(err, ShouldBeNil)
				defer os.RemoveAll(tempDir)

				logFile := filepath.Join(tempDir, "job.log")
				job := func(ctx context.Context) error {
					return os.WriteFile(logFile, []byte("executed"), 0644)
				}

				err = scheduler.AddJob("write", "* * * * * *", job)

				Convey("It should add the job successfully", func() {
					So(err, ShouldBeNil)
					So(scheduler.Next().IsZero(), ShouldBeFalse)

					scheduler.Start()
					time.Sleep(2 * time.Second)
					scheduler.Stop()

					content, err := os.ReadFile(logFile)
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "executed")
				})
			})

			Convey("When adding a job with an invalid cron spec", func() {
				job := func(ctx context.Context) error { return nil }
				err := scheduler.AddJob("broken", "invalid spec", job)

				Convey("It should return an error naming the job", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "schedule broken")
					So(err.Error(), ShouldContainSubstring, "expected exactly 6 fields")
				})
			})

			Convey("When a job keeps failing", func() {
				var runs int32
				err := scheduler.AddJob("failing", "* * * * * *", func(ctx context.Context) error {
					atomic.AddInt32(&runs, 1)
					return errors.New("boom")
				})
				So(err, ShouldBeNil)

				Convey("It should keep being scheduled", func() {
					scheduler.Start()
					time.Sleep(2500 * time.Millisecond)
					scheduler.Stop()
					So(atomic.LoadInt32(&runs), ShouldBeGreaterThanOrEqualTo, 2)
				})
			})
		})

		Convey("Overlapping runs", func() {
			scheduler := New(logger.NewNop())

			var running, maxRunning, runs int32
			err := scheduler.AddJob("slow", "* * * * * *", func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				defer atomic.AddInt32(&running, -1)
				if n > atomic.LoadInt32(&maxRunning) {
					atomic.StoreInt32(&maxRunning, n)
				}
				atomic.AddInt32(&runs, 1)
				select {
				case <-time.After(2500 * time.Millisecond):
				case <-ctx.Done():
				}
				return nil
			})
			So(err, ShouldBeNil)

			Convey("A tick during a running invocation should be skipped", func() {
				scheduler.Start()
				time.Sleep(3 * time.Second)
				scheduler.Stop()

				So(atomic.LoadInt32(&maxRunning), ShouldEqual, 1)
				So(atomic.LoadInt32(&runs), ShouldBeLessThanOrEqualTo, 2)
			})
		})

		Convey("Start and Stop methods", func() {
			scheduler := New(logger.NewNop())

			Convey("When starting and stopping the scheduler", func() {
				tempDir, err := os.MkdirTemp("", "scheduler_test")
				So(err, ShouldBeNil)
				defer os.RemoveAll(tempDir)

				logFile := filepath.Join(tempDir, "job.log")
				job := func(ctx context.Context) error {
					return os.WriteFile(logFile, []byte("executed"), 0644)
				}

				err = scheduler.AddJob("write", "* * * * * *", job)
				So(err, ShouldBeNil)

				Convey("It should start and stop without error", func() {
					So(func() { scheduler.Start() }, ShouldNotPanic)

					time.Sleep(2 * time.Second)

					_, err := os.Stat(logFile)
					So(err, ShouldBeNil)

					So(func() { scheduler.Stop() }, ShouldNotPanic)

					// No further executions after stopping.
					os.Remove(logFile)
					time.Sleep(2 * time.Second)
					_, err = os.Stat(logFile)
					So(os.IsNotExist(err), ShouldBeTrue)
				})
			})
		})
	})
}
