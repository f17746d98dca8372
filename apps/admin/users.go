package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/services/email"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/storage/database"
)

type dbHandle = *sqlx.DB

func withDB(fn func(db dbHandle) error) error {
	db, err := database.Open(core.Conf.Database)
	if err != nil {
		return err
	}
	//goland:noinspection GoUnhandledErrorResult
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = database.StatusCheck(ctx, db); err != nil {
		return err
	}
	return fn(db)
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwd, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	return string(pwd), err
}

func addUser(args []string) error {
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	name := fs.String("name", "", "full name (required)")
	username := fs.String("username", "", "username")
	emailAddr := fs.String("email", "", "email address")
	admin := fs.Bool("admin", false, "grant the admin role")
	teacher := fs.Bool("teacher", false, "grant the teacher role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pwd, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	pwdConfirm, err := promptPassword("Password (again): ")
	if err != nil {
		return err
	}

	roles := []string{user.RoleStudent}
	if *teacher {
		roles = []string{user.RoleTeacher}
	}
	if *admin {
		roles = []string{user.RoleAdmin}
	}
	nu := user.NewUser{
		Name:            *name,
		Username:        *username,
		Email:           *emailAddr,
		Password:        pwd,
		PasswordConfirm: pwdConfirm,
		Roles:           roles,
	}

	return withDB(func(db dbHandle) error {
		ctx := context.Background()
		svc := user.NewService(database.NewUserRepository(db), email.NewConsoleService())
		if err := nu.Validate(ctx, svc); err != nil {
			return err
		}
		usr, err := svc.Create(ctx, nu)
		if err != nil {
			return err
		}
		fmt.Printf("created user %s (%s)\n", usr.Name, usr.ID)
		return nil
	})
}

func resetPassword(args []string) error {
	fs := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	username := fs.String("username", "", "username or email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		fs.Usage()
		os.Exit(2)
	}

	pwd, err := promptPassword("New password: ")
	if err != nil {
		return err
	}
	pwdConfirm, err := promptPassword("New password (again): ")
	if err != nil {
		return err
	}
	if pwd != pwdConfirm {
		return fmt.Errorf("passwords do not match")
	}

	return withDB(func(db dbHandle) error {
		ctx := context.Background()
		svc := user.NewService(database.NewUserRepository(db), email.NewConsoleService())
		usr, err := svc.GetByUsernameOrEmail(ctx, *username)
		if err != nil {
			return err
		}
		if _, err = svc.Update(ctx, usr.ID, user.UpdateUser{
			Password:        pwd,
			PasswordConfirm: pwdConfirm,
		}); err != nil {
			return err
		}
		fmt.Printf("password updated for %s\n", usr.Name)
		return nil
	})
}
