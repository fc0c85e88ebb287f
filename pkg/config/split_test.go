package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitQuotedFields(t *testing.T) {
	in := `field'A' 'fieldB' fie'l\'d'C fieldD 'another field' fieldE`
	tgt := []string{"fieldA", "fieldB", "fiel'dC", "fieldD", "another field", "fieldE"}
	require.Equal(t, tgt, SplitQuotedFields(in, '\''))
}

func TestSplitDoubleQuotedFields(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{
			name:     "generic test case",
			in:       `field"A" "fieldB" fie"l'd"C "field\"D" "yet another field"`,
			expected: []string{"fieldA", "fieldB", "fiel'dC", "field\"D", "yet another field"},
		},
		{
			name:     "with empty string in the end",
			in:       `field"A" "" `,
			expected: []string{"fieldA", ""},
		},
		{
			name:     "with empty string at the beginning",
			in:       ` "" field"A"`,
			expected: []string{"", "fieldA"},
		},
		{
			name:     "lots of spaces",
			in:       `    field"A"   `,
			expected: []string{"fieldA"},
		},
		{
			name:     "only empty string",
			in:       ` "" "" "" """" "" `,
			expected: []string{"", "", "", "", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, SplitQuotedFields(tt.in, '"'))
		})
	}
}

type testConfig struct {
	BoolArg  bool     `cfgName:"bool-arg"`
	ListArg  []string `cfgName:"list-arg"`
	IntPtr   *int     `cfgName:"int-ptr"`
	Untagged string
}

func TestConfigureListByName(t *testing.T) {
	tests := []struct {
		name    string
		conf    *testConfig
		cfgname string
		want    string
	}{
		{"basic bool", &testConfig{BoolArg: true, ListArg: []string{}}, "bool-arg", "bool-arg\ttrue\n"},
		{"list arg", &testConfig{ListArg: []string{"item 1", "item 2"}}, "list-arg", "list-arg\t[item 1 item 2]\n"},
		{"nil pointer", &testConfig{}, "int-ptr", "int-ptr\t<not defined>\n"},
		{"empty", &testConfig{}, "", ""},
		{"invalid", &testConfig{}, "nonexistent", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ConfigureListByName(tt.conf, tt.cfgname, "cfgName"))
		})
	}
}

func TestConfigureList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ConfigureList(&buf, &testConfig{BoolArg: true}, "cfgName"))
	require.Equal(t, "bool-arg true\nlist-arg []\nint-ptr  <not defined>\n", buf.String())
}

func TestConfigureSetSimple(t *testing.T) {
	conf := &testConfig{}
	set := func(name, val string) error {
		field := ConfigureFindFieldByName(conf, name, "cfgName")
		require.True(t, field.CanAddr())
		return ConfigureSetSimple(val, name, field)
	}

	require.NoError(t, set("bool-arg", "true"))
	require.True(t, conf.BoolArg)
	require.Error(t, set("bool-arg", "yes"))

	require.NoError(t, set("int-ptr", "12"))
	require.Equal(t, 12, *conf.IntPtr)
	require.Error(t, set("int-ptr", "-1"))
	require.Error(t, set("int-ptr", "many"))

	require.NoError(t, set("list-arg", `red "light blue"`))
	require.Equal(t, []string{"red", "light blue"}, conf.ListArg)

	require.False(t, ConfigureFindFieldByName(conf, "nope", "cfgName").IsValid())
}
