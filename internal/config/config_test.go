package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/goalboard/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.APIBaseURL, convey.ShouldEqual, "http://localhost:8000")
			convey.So(cfg.ReconnectDelay(), convey.ShouldEqual, 3*time.Second)
			convey.So(cfg.SnapshotRetryDelay(), convey.ShouldEqual, 3*time.Second)
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_WebSocketURL(t *testing.T) {
	convey.Convey("Given a config", t, func() {
		cfg := config.New()

		convey.Convey("When the base URL is plain http", func() {
			u, err := cfg.WebSocketURL()
			convey.So(err, convey.ShouldBeNil)
			convey.So(u, convey.ShouldEqual, "ws://localhost:8000/ws")
		})

		convey.Convey("When the base URL is https with a path prefix", func() {
			cfg.APIBaseURL = "https://goals.example.com/api/"
			u, err := cfg.WebSocketURL()
			convey.So(err, convey.ShouldBeNil)
			convey.So(u, convey.ShouldEqual, "wss://goals.example.com/api/ws")
		})

		convey.Convey("When the scheme is not http(s)", func() {
			cfg.APIBaseURL = "ftp://goals.example.com"
			_, err := cfg.WebSocketURL()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func TestConfig_Origins(t *testing.T) {
	convey.Convey("Given a comma separated origin list", t, func() {
		cfg := config.New()
		cfg.CORSOrigins = " http://a.test , ,http://b.test"

		convey.So(cfg.Origins(), convey.ShouldResemble, []string{"http://a.test", "http://b.test"})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid configs", t, func() {
		cases := []func(*config.Config){
			func(c *config.Config) { c.Addr = " " },
			func(c *config.Config) { c.RequestTimeoutMS = 0 },
			func(c *config.Config) { c.ReconnectDelayMS = 0 },
			func(c *config.Config) { c.SnapshotRetryDelayMS = -1 },
			func(c *config.Config) { c.QueueSize = 0 },
			func(c *config.Config) { c.MaxReplayEvents = 0 },
			func(c *config.Config) { c.APIBaseURL = "localhost:8000" },
		}
		for _, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		}
	})
}
