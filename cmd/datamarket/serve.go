package main

import (
	"github.com/Bidon15/datamarket/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the marketplace visualisation page",
	Long: `Serve the visualisation directory over HTTP.

Routes:
  /                 the visualisation page (marketplace_visualiser.html)
  /visualisation/*  static assets from the visualisation directory
  /healthz          liveness probe
  /metrics          Prometheus metrics

Examples:
  datamarket serve
  datamarket serve --addr 127.0.0.1:9000 --static-dir ./web`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"server.addr":       "addr",
			"server.static_dir": "static-dir",
			"server.index_file": "index-file",
			"server.mount_path": "mount-path",
		})
	},
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", web.DefaultAddr, "listen address")
	f.String("static-dir", web.DefaultStaticDir, "directory of visualisation assets")
	f.String("index-file", web.DefaultIndexFile, "page served at / (relative to the static dir)")
	f.String("mount-path", web.DefaultMountPath, "URL prefix for static assets")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadServerConfig()
	logger := newLogger(cmd.ErrOrStderr())
	return web.NewServer(cfg, logger).Run(cmd.Context())
}
