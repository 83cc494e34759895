package service_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/layerlink/models"
	"github.com/zlnvch/layerlink/service"
)

func TestIdentity_RoundTrip(t *testing.T) {
	svc, _, _, _ := setupService(t)
	assert.True(t, svc.IdentityRequired())

	user := models.User{Id: "u1", Name: "Ada", Color: "#ff8800"}
	token, err := svc.CreateIdentityToken(user, time.Minute)
	require.NoError(t, err)

	verified, err := svc.VerifyIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, user, verified)
}

func TestIdentity_Rejects(t *testing.T) {
	svc, _, _, _ := setupService(t)

	_, err := svc.VerifyIdentity("")
	assert.ErrorIs(t, err, service.ErrIdentityRequired)

	expired, _ := svc.CreateIdentityToken(models.User{Id: "u1", Name: "Ada", Color: "#ff8800"}, -time.Minute)
	_, err = svc.VerifyIdentity(expired)
	assert.ErrorIs(t, err, service.ErrInvalidIdentity)

	other := &service.Service{IdentitySecret: []byte("other")}
	forged, _ := other.CreateIdentityToken(models.User{Id: "u1", Name: "Ada", Color: "#ff8800"}, time.Minute)
	_, err = svc.VerifyIdentity(forged)
	assert.ErrorIs(t, err, service.ErrInvalidIdentity)

	noName := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u1",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, _ := noName.SignedString([]byte("secret"))
	_, err = svc.VerifyIdentity(signed)
	assert.ErrorIs(t, err, service.ErrInvalidIdentity)
}
