package prescription

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEyePrescriptionValidate(t *testing.T) {
	cases := map[string]struct {
		rx    EyePrescription
		valid bool
	}{
		"plain myopia":     {EyePrescription{Sphere: -2}, true},
		"astigmatism":      {EyePrescription{Sphere: 1.25, Cylinder: -0.75, Axis: 179}, true},
		"axis too large":   {EyePrescription{Axis: 180}, false},
		"negative axis":    {EyePrescription{Axis: -1}, false},
		"sphere too large": {EyePrescription{Sphere: 31}, false},
		"nan cylinder":     {EyePrescription{Cylinder: math.NaN()}, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.rx.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPrescription)
			}
		})
	}
}

func TestProfileForEye(t *testing.T) {
	p := Profile{Name: "x", LeftEye: EyePrescription{Sphere: -1}, RightEye: EyePrescription{Sphere: -3}, PupillaryDistanceMM: 60}
	left, ok := p.ForEye(EyeLeft)
	require.True(t, ok)
	assert.Equal(t, -1.0, left.Sphere)
	right, ok := p.ForEye(EyeRight)
	require.True(t, ok)
	assert.Equal(t, -3.0, right.Sphere)
	_, ok = p.ForEye(Eye("both"))
	assert.False(t, ok)
}

func TestParseEye(t *testing.T) {
	eye, err := ParseEye("OD")
	require.NoError(t, err)
	assert.Equal(t, EyeRight, eye)
	_, err = ParseEye("middle")
	assert.Error(t, err)
}

func TestCollectionDeleteRules(t *testing.T) {
	c := DefaultCollection()
	assert.ErrorIs(t, c.Delete(DefaultProfileName), ErrDeleteLast)

	reading := Profile{Name: "Reading", LeftEye: EyePrescription{Sphere: 1.5}, RightEye: EyePrescription{Sphere: 1.5}, PupillaryDistanceMM: 62}
	require.NoError(t, c.Put(reading))
	assert.Equal(t, 2, c.Len())

	assert.ErrorIs(t, c.Delete(DefaultProfileName), ErrDeleteActive)
	require.NoError(t, c.SetActive("Reading"))
	require.NoError(t, c.Delete(DefaultProfileName))
	assert.Equal(t, []string{"Reading"}, c.Names())
	assert.ErrorIs(t, c.Delete("Reading"), ErrDeleteLast)
	assert.ErrorIs(t, c.Delete("missing"), ErrProfileNotFound)
}

func TestNewCollection(t *testing.T) {
	profiles := []Profile{
		{Name: "b", LeftEye: EyePrescription{Sphere: -1}, RightEye: EyePrescription{Sphere: -1}, PupillaryDistanceMM: 61},
		{Name: "a", LeftEye: EyePrescription{Sphere: -2}, RightEye: EyePrescription{Sphere: -2}, PupillaryDistanceMM: 61},
	}
	c, err := NewCollection(profiles, "")
	require.NoError(t, err)
	assert.Equal(t, "a", c.ActiveName())

	_, err = NewCollection(profiles, "c")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = NewCollection(append(profiles, profiles[0]), "a")
	assert.Error(t, err)

	_, err = NewCollection(nil, "")
	assert.Error(t, err)

	assert.ErrorIs(t, c.SetActive("zzz"), ErrProfileNotFound)
}
