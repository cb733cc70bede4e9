package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"authhub/internal/dispatch"
)

func TestNormalizeOperatorCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"BRADESCO", "BRADESCO"},
		{"bradesco", "BRADESCO"},
		{"  bradesco  ", "BRADESCO"},
		{"Sul América Saúde", "SUL_AMERICA_SAUDE"},
		{"SUL_AMERICA_SAUDE", "SUL_AMERICA_SAUDE"},
		{"sul--américa  saúde", "SUL_AMERICA_SAUDE"},
		{"__unimed__", "UNIMED"},
		{"Operadora 42", "OPERADORA_42"},
		{"", ""},
		{"---", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeOperatorCode(tc.in), "input %q", tc.in)
	}
}

func TestClassifierClassify(t *testing.T) {
	c := NewClassifier(DefaultTypeACodes(), DefaultTypeBCodes())

	cases := []struct {
		code string
		want dispatch.Type
	}{
		{"BRADESCO", dispatch.TypeA},
		{"bradesco", dispatch.TypeA},
		{"  Bradesco  ", dispatch.TypeA},
		{"Sul América", dispatch.TypeA},
		{"AMIL_SAUDE", dispatch.TypeA},
		{"UNIMED_ANAPOLIS", dispatch.TypeB},
		{"unimed anápolis", dispatch.TypeB},
		{"ALLIANZ_SAUDE", dispatch.TypeB},
		{"MEDISERVICE", dispatch.TypeB},
		{"OPERADORA_DESCONHECIDA", dispatch.TypeC},
		{"", dispatch.TypeC},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(tc.code), "code %q", tc.code)
	}
}

func TestClassifierExtraCodes(t *testing.T) {
	c := NewClassifier(
		append(DefaultTypeACodes(), "Nova Operadora"),
		append(DefaultTypeBCodes(), "OUTRA_OPERADORA"),
	)

	assert.Equal(t, dispatch.TypeA, c.Classify("NOVA_OPERADORA"))
	assert.Equal(t, dispatch.TypeB, c.Classify("outra operadora"))
	assert.Equal(t, dispatch.TypeC, c.Classify("QUALQUER_OUTRA"))
}
