// Package build contains helpers for build scripts and go:generate steps that need more than
// "go build": creating and linking files, running external tools and, most importantly,
// regenerating derived files only when their inputs changed.
//
// The central piece is MkFrom which works like a single Makefile rule: the target is rebuilt if
// it's missing or if any of its inputs has a newer modification time.
//
//	web := b.Root.MustDir("webapp")
//	dist := b.Out.MustDir("webapp/dist")
//	assets := b.Root.MustFile("internal/assets/webapp.go")
//
//	npm := build.NewCmd("npm").Arg("--prefix").Arg(web.Path())
//	_, err := dist.MkFrom(ctx, "Build webapp", web.Content("src/**").Include("package*.json"),
//		func(ctx context.Context) error {
//			return npm.Arg("run").Arg("build").Run(ctx)
//		})
//
//	_, err = assets.MkFrom(ctx, "Embed webapp", dist.Files("**"), func(ctx context.Context) error {
//		return build.Embed(ctx, dist, assets, build.EmbedOptions{Package: "assets", Func: "Webapp"})
//	})
package build
