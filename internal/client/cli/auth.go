package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
)

// Test seams for the interactive prompts.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "email",
			Aliases: []string{"e"},
			Usage:   "Account email (prompted when omitted)",
		},
		&cli.BoolFlag{
			Name:  "password-stdin",
			Usage: "Read the password from the first line of stdin",
		},
	}
}

// RegisterCommand returns the register command.
func RegisterCommand() *cli.Command {
	return &cli.Command{
		Name:   "register",
		Usage:  "Create an account",
		Flags:  credentialFlags(),
		Action: register,
	}
}

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "Log in and store the session token",
		Flags:  credentialFlags(),
		Action: login,
	}
}

// LogoutCommand returns the logout command.
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Forget the stored session token",
		Action: logout,
	}
}

func register(c *cli.Context) error {
	email, password, err := readCredentials(c, true)
	if err != nil {
		return err
	}
	defer wipe(password)

	api, err := newClient(c, false)
	if err != nil {
		return err
	}
	msg, err := api.Register(commandContext(c), email, string(password))
	if err != nil {
		return explain(err)
	}
	fmt.Fprintln(c.App.Writer, msg)
	return nil
}

func login(c *cli.Context) error {
	email, password, err := readCredentials(c, false)
	if err != nil {
		return err
	}
	defer wipe(password)

	api, err := newClient(c, false)
	if err != nil {
		return err
	}
	token, err := api.Login(commandContext(c), email, string(password))
	if err != nil {
		return explain(err)
	}

	path := c.String("token-file")
	if err := saveToken(path, token); err != nil {
		return err
	}
	loggerFrom(c).Debug(commandContext(c), "token stored", "path", path)
	fmt.Fprintln(c.App.Writer, "Login successful")
	return nil
}

func logout(c *cli.Context) error {
	if err := removeToken(c.String("token-file")); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Logged out")
	return nil
}

// readCredentials collects the email and password from flags, stdin or
// the terminal. With confirm set, an interactive password is asked twice.
func readCredentials(c *cli.Context, confirm bool) (string, []byte, error) {
	reader := bufio.NewReader(c.App.Reader)

	email := c.String("email")
	if email == "" {
		if c.Bool("password-stdin") {
			return "", nil, errors.New("--email is required with --password-stdin")
		}
		var err error
		if email, err = getSimpleText(reader, "Enter email", c.App.ErrWriter); err != nil {
			return "", nil, fmt.Errorf("read email: %w", err)
		}
	}
	if email == "" {
		return "", nil, errors.New("email must not be empty")
	}

	if c.Bool("password-stdin") {
		line, err := readLine(reader)
		if err != nil {
			return "", nil, fmt.Errorf("read password: %w", err)
		}
		return email, []byte(line), nil
	}

	password, err := getPassword(c.App.ErrWriter, "Enter password")
	if err != nil {
		return "", nil, fmt.Errorf("read password: %w", err)
	}
	if confirm {
		again, err := getPassword(c.App.ErrWriter, "Repeat password")
		if err != nil {
			wipe(password)
			return "", nil, fmt.Errorf("read password: %w", err)
		}
		defer wipe(again)
		if !bytes.Equal(password, again) {
			wipe(password)
			return "", nil, errors.New("passwords do not match")
		}
	}
	return email, password, nil
}
