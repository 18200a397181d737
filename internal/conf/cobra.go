package conf

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BindCobraFlags binds a command's persistent flags into viper under the
// given key prefixes so CLI flags take precedence over the config file.
// keys maps a flag name to the viper key it should populate.
func BindCobraFlags(cmd *cobra.Command, keys map[string]string) error {
	for flagName, viperKey := range keys {
		flag := cmd.PersistentFlags().Lookup(flagName)
		if flag == nil {
			flag = cmd.Flags().Lookup(flagName)
		}
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(viperKey, flag); err != nil {
			return err
		}
	}
	return nil
}
