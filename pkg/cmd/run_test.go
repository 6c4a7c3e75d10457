package cmd

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type funcModule func(ctx context.Context, g *errgroup.Group) error

func (f funcModule) Start(ctx context.Context, g *errgroup.Group) error { return f(ctx, g) }

func TestRunContext(t *testing.T) {
	Convey("RunContext", t, func() {
		logger := zap.NewNop()

		Convey("stops modules when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			stopped := false
			waiting := funcModule(func(ctx context.Context, g *errgroup.Group) error {
				g.Go(func() error {
					<-ctx.Done()
					stopped = true
					return nil
				})
				return nil
			})

			cancel()
			So(RunContext(ctx, logger, []Module{waiting}), ShouldBeNil)
			So(stopped, ShouldBeTrue)
		})

		Convey("reports start failures", func() {
			failing := funcModule(func(ctx context.Context, g *errgroup.Group) error {
				return errors.New("boom")
			})

			err := RunContext(context.Background(), logger, []Module{failing})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "boom")
		})

		Convey("cancels siblings when one module fails", func() {
			failing := funcModule(func(ctx context.Context, g *errgroup.Group) error {
				g.Go(func() error { return errors.New("crashed") })
				return nil
			})
			waiting := funcModule(func(ctx context.Context, g *errgroup.Group) error {
				g.Go(func() error {
					<-ctx.Done()
					return nil
				})
				return nil
			})

			err := RunContext(context.Background(), logger, []Module{waiting, failing})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldEqual, "crashed")
		})
	})
}
