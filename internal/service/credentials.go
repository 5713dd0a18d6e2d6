package service

import (
	"log/slog"

	"github.com/spf13/viper"
)

const credentialsPrefix = "KANTAN"

// Credentials of the Kantan account the scrape logs in with. They come from
// the service environment and are passed to every child process unchanged.
type Credentials struct {
	Username  string
	Password  string
	GroupName string
}

// LoadCredentials reads KANTAN_USERNAME, KANTAN_PASSWORD and
// KANTAN_GROUP_NAME. Missing values are empty, the scrape reports them.
func LoadCredentials() Credentials {
	v := viper.New()
	v.SetEnvPrefix(credentialsPrefix)
	v.AutomaticEnv()
	for _, key := range []string{"username", "password", "group_name"} {
		v.SetDefault(key, "")
	}
	return Credentials{
		Username:  v.GetString("username"),
		Password:  v.GetString("password"),
		GroupName: v.GetString("group_name"),
	}
}

// Environ returns the credentials in os.Environ format
func (c Credentials) Environ() []string {
	return []string{
		credentialsPrefix + "_USERNAME=" + c.Username,
		credentialsPrefix + "_PASSWORD=" + c.Password,
		credentialsPrefix + "_GROUP_NAME=" + c.GroupName,
	}
}

// LogValue never prints the password
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("password_set", c.Password != ""),
		slog.String("group_name", c.GroupName),
	)
}
