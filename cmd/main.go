/*
Copyright 2026 Paychan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paychanhq/paychan"
	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/database"
	"github.com/paychanhq/paychan/internal/notification"
)

// Paychan represents the CLI application, encapsulating the root Cobra command.
type Paychan struct {
	cmd *cobra.Command
}

// paychanInstance holds the engine instance and its configuration, shared by
// every subcommand.
type paychanInstance struct {
	paychan *paychan.Paychan
	db      database.IDataSource
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the engine before running
// any command.
func preRun(app *paychanInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("paychan.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPaychan, db, err := setupPaychan(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.paychan = newPaychan
		app.db = db
		app.cnf = cnf

		return nil
	}
}

// setupPaychan creates and initializes an engine instance backed by the
// configured data source.
func setupPaychan(cfg *config.Configuration) (*paychan.Paychan, database.IDataSource, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newPaychan, err := paychan.NewPaychan(db)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating paychan: %v", err)
	}
	return newPaychan, db, nil
}

// NewCLI creates the command-line interface for the paychan application.
func NewCLI() *Paychan {
	var configFile string
	b := &paychanInstance{}

	var rootCmd = &cobra.Command{
		Use:   "paychan",
		Short: "Open source payment channels",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./paychan.json", "Configuration file for paychan")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Paychan{cmd: rootCmd}
}

func (w Paychan) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
