// Package config loads moneycore's Config struct from environment
// variables using reflection over "env" struct tags, the same mechanism
// the teacher workspace uses (see common/os.go).
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// GetenvOrDefault returns os.Getenv(key), or defaultValue if unset/blank.
func GetenvOrDefault(key, defaultValue string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return defaultValue
	}

	return v
}

// GetenvBoolOrDefault parses os.Getenv(key) as a bool, or returns defaultValue.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return v
}

// GetenvIntOrDefault parses os.Getenv(key) as an int64, or returns defaultValue.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return v
}

var loadEnvOnce sync.Once

// LoadLocalEnv loads a .env file exactly once, only when ENV_NAME=local.
func LoadLocalEnv() {
	loadEnvOnce.Do(func() {
		if GetenvOrDefault("ENV_NAME", "local") != "local" {
			return
		}

		_ = godotenv.Load()
	})
}

// FromEnv populates the fields of s (a pointer to struct) from "env"
// struct tags. Supported kinds: string, bool, and the integer family.
func FromEnv(s any) error {
	v := reflect.ValueOf(s)

	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("config: FromEnv requires a non-nil pointer")
	}

	elem := v.Elem()
	t := elem.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}

		parts := strings.Split(tag, ",")
		envVar := parts[0]

		fv := elem.Field(i)
		if !fv.CanSet() {
			continue
		}

		switch fv.Kind() {
		case reflect.Bool:
			fv.SetBool(GetenvBoolOrDefault(envVar, false))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fv.SetInt(GetenvIntOrDefault(envVar, 0))
		default:
			fv.SetString(os.Getenv(envVar))
		}
	}

	return nil
}
