// Package config loads the server configuration from the environment.
//
// Outside production a .env file in the working directory is loaded first;
// values already exported in the environment always take precedence. The
// only required variable is CAMPRO_API_KEY. A missing key is a configuration
// error and the process refuses to start.
package config
