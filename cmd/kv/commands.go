package kv

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/ikv/cmd/util"
	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/spf13/cobra"
)

// await runs the loop until every submitted operation completed and returns err afterwards
func await(cmd *cobra.Command, err *error) error {
	if runErr := session.Run(cmd.Context()); runErr != nil {
		return runErr
	}
	return *err
}

// printConflicts prints the conflicting index records of an IndexConflict error
func printConflicts(err error) {
	var storeErr *store.Error
	if errors.As(err, &storeErr) && storeErr.Kind == store.KindIndexConflict {
		for k, v := range storeErr.Conflicts {
			fmt.Printf("conflict: %s=%s\n", k, v)
		}
	}
}

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			var err error
			session.Handle.Get([]byte(key), func(value []byte, e error) {
				err = e
				if e == nil {
					fmt.Printf("key=%s, value=%s\n", key, value)
				}
			})
			return await(cmd, &err)
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			session.Handle.Set([]byte(args[0]), []byte(args[1]), func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [key] [value]",
		Short: "Adds a key, fails if it already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			session.Handle.Add([]byte(args[0]), []byte(args[1]), func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				return err
			}
			fmt.Println("add successfully")
			return nil
		},
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [key] [value]",
		Short: "Replaces the value of a key, fails if it does not exist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			session.Handle.Replace([]byte(args[0]), []byte(args[1]), func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				return err
			}
			fmt.Println("replace successfully")
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Removes a key value pair, fails if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			session.Handle.Remove([]byte(args[0]), func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				return err
			}
			fmt.Println("remove successfully")
			return nil
		},
	}
	bulkCmd = &cobra.Command{
		Use:   "bulk [key]...",
		Short: "Reads the values of several keys in one snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([][]byte, len(args))
			for i, k := range args {
				keys[i] = []byte(k)
			}
			var err error
			session.Handle.GetBulk(keys, true, func(records map[string][]byte, e error) {
				err = e
				for _, k := range args {
					if v, ok := records[k]; ok {
						fmt.Printf("key=%s, found=true, value=%s\n", k, v)
					} else if e == nil {
						fmt.Printf("key=%s, found=false\n", k)
					}
				}
			})
			return await(cmd, &err)
		},
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Synchronizes the store to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hard, _ := cmd.Flags().GetBool("hard")
			var err error
			session.Handle.Synchronize(hard, func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				return err
			}
			fmt.Println("sync successfully")
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [prefix]",
		Short: "Lists all records, or the records whose key starts with prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			count := 0
			visit := func(key, value []byte) bool {
				fmt.Printf("%s=%s\n", key, value)
				count++
				return limit <= 0 || count < limit
			}
			var err error
			done := func(e error) { err = e }
			if len(args) == 0 {
				session.Handle.Each(visit, done)
			} else {
				session.Handle.Scan([]byte(args[0]), visit, done)
			}
			return await(cmd, &err)
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			session.Handle.Info(func(info db.DatabaseInfo, e error) {
				err = e
				if e != nil {
					return
				}
				fmt.Printf("path=%s, type=%s, count=%d, size=%d\n", info.Path, info.DbType, info.Count, info.SizeBytes)
				if info.Metadata != nil {
					fmt.Printf("metadata=%+v\n", info.Metadata)
				}
			})
			return await(cmd, &err)
		},
	}

	// --------------------------------------------------------------------------
	// Indexed writes
	// --------------------------------------------------------------------------

	addIndexedCmd = &cobra.Command{
		Use:   "add-indexed [key] [value] [index-key=value]...",
		Short: "Adds a key together with its index records",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toIndex, err := util.ParseIndexMap(args[2:])
			if err != nil {
				return err
			}
			session.Handle.AddIndexed([]byte(args[0]), []byte(args[1]), toIndex, func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				printConflicts(err)
				return err
			}
			fmt.Println("add-indexed successfully")
			return nil
		},
	}
	replaceIndexedCmd = &cobra.Command{
		Use:   "replace-indexed [key] [value] [index-key=value]...",
		Short: "Replaces a key, adds index records and removes the index records given by --remove",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toIndex, err := util.ParseIndexMap(args[2:])
			if err != nil {
				return err
			}
			removals, _ := cmd.Flags().GetStringSlice("remove")
			session.Handle.ReplaceIndexed([]byte(args[0]), []byte(args[1]), toIndex, util.ParseRemovalSet(removals),
				func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				printConflicts(err)
				return err
			}
			fmt.Println("replace-indexed successfully")
			return nil
		},
	}
	removeIndexedCmd = &cobra.Command{
		Use:   "remove-indexed [key] [index-key]...",
		Short: "Removes a key and the index records pointing at it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			session.Handle.RemoveIndexed([]byte(args[0]), util.ParseRemovalSet(args[1:]), func(e error) { err = e })
			if err := await(cmd, &err); err != nil {
				printConflicts(err)
				return err
			}
			fmt.Println("remove-indexed successfully")
			return nil
		},
	}
	validateIndexCmd = &cobra.Command{
		Use:   "validate-index [index-key=value]...",
		Short: "Checks whether index records could be written without conflicts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toIndex, err := util.ParseIndexMap(args)
			if err != nil {
				return err
			}
			session.Handle.ValidateIndex(toIndex, func(conflicts store.ConflictMap, e error) {
				err = e
				if e != nil {
					return
				}
				if len(conflicts) == 0 {
					fmt.Println("valid=true")
					return
				}
				fmt.Println("valid=false")
				for k, v := range conflicts {
					fmt.Printf("conflict: %s=%s\n", k, v)
				}
			})
			return await(cmd, &err)
		},
	}
)

func init() {
	syncCmd.Flags().Bool("hard", false, util.WrapString("Physically synchronize the files"))
	scanCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of records to print (0 for all)"))
	replaceIndexedCmd.Flags().StringSlice("remove", nil, util.WrapString("Index keys to remove (comma separated)"))
}
