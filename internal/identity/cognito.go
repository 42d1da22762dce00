package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

type cognitoAPI interface {
	GetUser(ctx context.Context, params *cognitoidentityprovider.GetUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GetUserOutput, error)
}

// CognitoVerifier resolves Cognito access tokens through GetUser
type CognitoVerifier struct {
	client cognitoAPI
}

func NewCognitoVerifier(ctx context.Context, region string) (*CognitoVerifier, error) {
	cfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CognitoVerifier{client: cognitoidentityprovider.NewFromConfig(cfg)}, nil
}

func (v *CognitoVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	out, err := v.client.GetUser(ctx, &cognitoidentityprovider.GetUserInput{AccessToken: aws.String(token)})
	if err != nil {
		var notAuthorized *types.NotAuthorizedException
		if errors.As(err, &notAuthorized) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("cognito get user: %w", err)
	}

	id := Identity{}
	for _, attr := range out.UserAttributes {
		switch aws.ToString(attr.Name) {
		case "sub":
			id.Subject = aws.ToString(attr.Value)
		case "email":
			id.Email = aws.ToString(attr.Value)
		case "nickname", "name":
			if id.DisplayName == "" {
				id.DisplayName = aws.ToString(attr.Value)
			}
		}
	}
	if id.Subject == "" {
		id.Subject = aws.ToString(out.Username)
	}
	if id.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	if id.DisplayName == "" {
		id.DisplayName = DisplayNameFromEmail(id.Email)
	}
	return id, nil
}
