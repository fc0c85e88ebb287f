package terminal

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-delve/heapview/pkg/config"
	"github.com/go-delve/heapview/pkg/terminal/colorize"
)

func configureCmd(t *Term, args string) error {
	switch args {
	case "-list":
		return config.ConfigureList(t.stdout, t.conf, "yaml")
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

func configureSet(t *Term, args string) error {
	v := strings.SplitN(strings.TrimSpace(args), " ", 2)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = strings.TrimSpace(v[1])
	}

	if cfgname == "alias" {
		return configureSetAlias(t, rest)
	}

	field := config.ConfigureFindFieldByName(t.conf, cfgname, "yaml")
	if !field.CanAddr() {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}
	if field.Kind() == reflect.Map {
		return fmt.Errorf("use \"config alias\" to change %q", cfgname)
	}
	if rest == "" {
		fmt.Fprint(t.stdout, config.ConfigureListByName(t.conf, cfgname, "yaml"))
		return nil
	}
	if err := config.ConfigureSetSimple(rest, cfgname, field); err != nil {
		return err
	}

	switch cfgname {
	case "color", "palette":
		return t.updateScheme()
	case "max-list-length", "libc-version", "index-cache-size":
		fmt.Fprintf(t.stdout, "%s takes effect the next time heapview starts\n", cfgname)
	}
	return nil
}

// updateScheme rebuilds the color scheme after the color or palette
// settings changed.
func (t *Term) updateScheme() error {
	if t.conf.Color == nil || !*t.conf.Color {
		t.scheme = nil
		return nil
	}
	scheme, err := colorize.NewScheme(t.conf.Palette)
	if err != nil {
		return err
	}
	t.scheme = scheme
	return nil
}

func configureSetAlias(t *Term, rest string) error {
	argv := config.SplitQuotedFields(rest, '"')
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := 0; i < len(v); i++ {
				if v[i] == argv[0] {
					v = append(v[:i], v[i+1:]...)
					i--
				}
			}
			t.conf.Aliases[k] = v
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
