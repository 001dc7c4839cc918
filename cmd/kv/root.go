package kv

import (
	"github.com/ValentinKolb/ikv/cmd/util"
	"github.com/spf13/cobra"
)

var (
	session *util.Session

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value store operations",
		PersistentPreRunE:  openSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common store flags to the KV command
	util.SetupStoreFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(addCmd)
	KeyValueCommands.AddCommand(replaceCmd)
	KeyValueCommands.AddCommand(removeCmd)
	KeyValueCommands.AddCommand(bulkCmd)
	KeyValueCommands.AddCommand(syncCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(addIndexedCmd)
	KeyValueCommands.AddCommand(replaceIndexedCmd)
	KeyValueCommands.AddCommand(removeIndexedCmd)
	KeyValueCommands.AddCommand(validateIndexCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// openSession opens the store configured by flags and environment
func openSession(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	session, err = util.OpenSession(cmd.Context(), util.GetConfig())
	return err
}

// closeSession closes the store opened by openSession
func closeSession(cmd *cobra.Command, _ []string) error {
	if session == nil {
		return nil
	}
	return session.Close(cmd.Context())
}
