package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// DefaultRoute is the reserved routes key used when no other entry matches.
const DefaultRoute = "default"

// LauncherMirrorHost serves both the launcher and its metadata host,
// split on the /meta/ path prefix.
const LauncherMirrorHost = "launcher.mirror.hkmc.online"

// BuiltinRoutes returns the mirror table used when the config file
// declares no routes of its own.
func BuiltinRoutes() map[string]string {
	return map[string]string{
		LauncherMirrorHost:                   "https://launcher.mojang.com",
		"resources.mirror.hkmc.online":       "https://resources.download.minecraft.net",
		"libraries.mirror.hkmc.online":       "https://libraries.minecraft.net",
		"files.forge.mirror.hkmc.online":     "https://files.minecraftforge.net",
		"dl.liteloader.mirror.hkmc.online":   "https://dl.liteloader.com",
		"meta.fabric.mirror.hkmc.online":     "https://meta.fabricmc.net",
		"maven.fabric.mirror.hkmc.online":    "https://maven.fabricmc.net",
		"maven.neoforged.mirror.hkmc.online": "https://maven.neoforged.net",
		"maven.quilt.mirror.hkmc.online":     "https://maven.quiltmc.org",
		"meta.quilt.mirror.hkmc.online":      "https://meta.quiltmc.org",
		DefaultRoute:                         "https://chat-in.sorapi.dev",
	}
}

// BuiltinRules returns the path-conditioned overrides paired with BuiltinRoutes.
// The launcher host is listed twice so the catch-all rule wins over its
// table entry as well.
func BuiltinRules() []RuleConfig {
	return []RuleConfig{
		{Host: LauncherMirrorHost, PathPrefix: "/meta/", Origin: "https://launchermeta.mojang.com"},
		{Host: LauncherMirrorHost, PathPrefix: "", Origin: "https://launcher.mojang.com"},
	}
}

func validateRoutes(routes map[string]string) error {
	hosts := make([]string, 0, len(routes))
	for h := range routes {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, h := range hosts {
		err := validation.Validate(h,
			validation.Required,
			validation.When(h != DefaultRoute, validation.By(validateHostKey)),
		)
		if err != nil {
			return fmt.Errorf("routes: key %q: %w", h, err)
		}
		if err := validation.Validate(routes[h], validation.Required, validation.By(validateOrigin)); err != nil {
			return fmt.Errorf("routes[%q]: %w", h, err)
		}
	}
	return nil
}

func validateRules(rules []RuleConfig) error {
	for i := range rules {
		r := rules[i]
		err := validation.ValidateStruct(&r,
			validation.Field(&r.Host, validation.Required, validation.By(validateHostKey)),
			validation.Field(&r.PathPrefix, validation.By(validatePathPrefix)),
			validation.Field(&r.Origin, validation.Required, validation.By(validateOrigin)),
		)
		if err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// validateHostKey accepts a Host header value: a hostname or IP with an
// optional port.
func validateHostKey(value interface{}) error {
	h, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if h == DefaultRoute {
		return validation.NewError("validation_reserved_host", "\"default\" is reserved for the routes table")
	}

	host := h
	if strings.Contains(h, ":") {
		hh, port, err := net.SplitHostPort(h)
		if err != nil || port == "" {
			return validation.NewError("validation_invalid_hostport", "must be host or host:port")
		}
		host = hh
	}
	if err := is.Host.Validate(host); err != nil {
		return validation.NewError("validation_invalid_host", "invalid host")
	}
	return nil
}

func validatePathPrefix(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if p != "" && p[0] != '/' {
		return validation.NewError("validation_invalid_prefix", "must start with '/'")
	}
	return nil
}

// validateOrigin requires scheme and authority only. Inbound paths are
// appended verbatim, so a base path or query would be silently lost.
func validateOrigin(value interface{}) error {
	origin, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	u, err := url.Parse(origin)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}
	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return validation.NewError("validation_origin_path", "origin must not carry a path, query or fragment")
	}
	return nil
}
