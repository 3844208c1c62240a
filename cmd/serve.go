package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/repsense/repsense/engine/store"
	"github.com/repsense/repsense/server"
)

var (
	serveAddr string
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the learning and inference HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadSpec()
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = spec.Server.Addr
		}
		if addr == "" {
			addr = ":8808"
		}
		dbPath := serveDB
		if dbPath == "" {
			dbPath = spec.Server.DBPath
		}

		var st store.Store
		if dbPath != "" {
			sqlite, err := store.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer sqlite.Close()
			st = sqlite
		} else {
			logrus.Warn("no --db given; artifacts are held in memory and lost on exit")
			st = store.NewMemory()
		}

		srv := server.New(st, spec)
		logrus.Infof("serving on %s", addr)
		return srv.Routes().Run(addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :8808)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite artifact database path (default in-memory)")

	rootCmd.AddCommand(serveCmd)
}
