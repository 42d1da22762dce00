package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	v, err := NewJWTVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.IssueToken("learner-1", "ana@example.com", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{Subject: "learner-1", Email: "ana@example.com", DisplayName: "ana"}, id)
}

func TestJWTVerifierRejects(t *testing.T) {
	v, _ := NewJWTVerifier("test-secret")
	other, _ := NewJWTVerifier("other-secret")

	expired, err := v.IssueToken("learner-1", "a@example.com", -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	foreign, _ := other.IssueToken("learner-1", "a@example.com", time.Hour)
	_, err = v.Verify(context.Background(), foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTVerifierNeedsSecret(t *testing.T) {
	_, err := NewJWTVerifier("")
	assert.Error(t, err)
}

type fakeCognito struct {
	out *cognitoidentityprovider.GetUserOutput
	err error
}

func (f fakeCognito) GetUser(context.Context, *cognitoidentityprovider.GetUserInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GetUserOutput, error) {
	return f.out, f.err
}

func TestCognitoVerifier(t *testing.T) {
	v := &CognitoVerifier{client: fakeCognito{out: &cognitoidentityprovider.GetUserOutput{
		Username: aws.String("ana"),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("sub"), Value: aws.String("2f1c-sub")},
			{Name: aws.String("email"), Value: aws.String("ana@example.com")},
			{Name: aws.String("nickname"), Value: aws.String("Ana")},
		},
	}}}
	id, err := v.Verify(context.Background(), "access-token")
	require.NoError(t, err)
	assert.Equal(t, Identity{Subject: "2f1c-sub", Email: "ana@example.com", DisplayName: "Ana"}, id)
}

func TestCognitoVerifierErrors(t *testing.T) {
	v := &CognitoVerifier{client: fakeCognito{err: &types.NotAuthorizedException{Message: aws.String("Access Token has expired")}}}
	_, err := v.Verify(context.Background(), "t")
	assert.ErrorIs(t, err, ErrInvalidToken)

	boom := errors.New("network down")
	v = &CognitoVerifier{client: fakeCognito{err: boom}}
	_, err = v.Verify(context.Background(), "t")
	assert.ErrorIs(t, err, boom)
}
