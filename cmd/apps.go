package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/testkit/internal/discovery"
)

var appsHome string

var appsCmd = &cobra.Command{
	Use:   "apps <project>",
	Short: "列出本地登记的运行中应用",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		home := appsHome
		if home == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			home = cfg.Discovery.Home
		}
		reg, err := discovery.NewRegistry(home)
		if err != nil {
			return err
		}
		apps, err := reg.List(args[0])
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "项目 %s 下没有运行中的应用\n", args[0])
			}
			return nil
		}
		for _, app := range apps {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %d\n", app.Name, app.IP, app.Port)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(appsCmd)
	appsCmd.Flags().StringVar(&appsHome, "home", "", "登记目录的根，默认为用户目录")
}
