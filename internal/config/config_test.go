package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/faceoff/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.BracketSize, convey.ShouldEqual, 128)
			convey.So(cfg.Store, convey.ShouldEqual, "memory")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.MaxPageSize, convey.ShouldEqual, 100)
			convey.So(cfg.VelocityBurst, convey.ShouldEqual, 3)
			convey.So(cfg.VelocityWindow, convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.Budget, convey.ShouldEqual, 150)
			convey.So(cfg.BudgetWindow, convey.ShouldEqual, 10*time.Minute)
			convey.So(cfg.FinishingExemption, convey.ShouldEqual, 3)
			convey.So(cfg.SessionIdleThreshold, convey.ShouldEqual, 24*time.Hour)
			convey.So(cfg.SweepInterval, convey.ShouldEqual, 10*time.Minute)
		})
	})
}
