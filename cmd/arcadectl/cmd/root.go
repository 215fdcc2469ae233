package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/db"
	"github.com/mweller/arcadecrm/internal/jobqueue"
)

var (
	cfgFile    string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "arcadectl",
	Short: "Arcade CRM CLI - inspect and drive the async job subsystem",
	Long: `Arcade CRM CLI (arcadectl) is a command line tool for the arcade CRM
worker subsystem.

You can use it to check queue stats, inspect and retry jobs, list webhook
delivery records, and publish test events.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arcadectl.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".arcadectl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// cmdContext is the deadline every subcommand runs under.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// openDB connects to Postgres and returns the pool plus a cleanup.
func openDB(ctx context.Context) (*pgxpool.Pool, *config.Config, func(), error) {
	cfg := config.FromEnv()
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db connect failed: %w", err)
	}
	return pool, &cfg, pool.Close, nil
}

// openEnqueuer additionally dials nsqd so commands can publish.
func openEnqueuer(ctx context.Context) (*jobqueue.Enqueuer, *config.Config, func(), error) {
	pool, cfg, closeDB, err := openDB(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("nsq producer creation failed: %w", err)
	}
	cleanup := func() {
		producer.Stop()
		closeDB()
	}
	return jobqueue.NewEnqueuer(jobqueue.NewStore(pool), producer, cfg.NSQ), cfg, cleanup, nil
}

// printOutput prints the response in the requested format.
func printOutput(v any) {
	if outputJSON {
		jsonData, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}
		fmt.Println(string(jsonData))
		return
	}
	fmt.Printf("%+v\n", v)
}
