// Command admin provides operational tooling: database setup, migrations,
// user management and FORE system seeding.
package main

import (
	"fmt"
	"os"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/services/logger"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/storage/database"
)

const usage = `Usage: admin <command> [arguments]

Commands:
	createdb        create the application database if it does not exist
	migrate         apply pending schema migrations
	rollback        roll back the latest migration
	adduser         create a user (-admin or -teacher for elevated roles)
	resetpassword   set a new password for a user
	initdata        seed the default achievements, leaderboards and store rewards
`

func main() {
	log := logger.NewStdLogger("admin")

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "createdb":
		err = database.CreateIfNotExist(core.Conf.Database)
	case "migrate":
		err = withDB(func(db dbHandle) error { return database.Migrate(db.DB) })
	case "rollback":
		err = withDB(func(db dbHandle) error { return database.MigrateDown(db.DB) })
	case "adduser":
		err = addUser(os.Args[2:])
	case "resetpassword":
		err = resetPassword(os.Args[2:])
	case "initdata":
		err = initData()
	default:
		fmt.Printf("unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("admin: command failed", "error", err)
	}
}
