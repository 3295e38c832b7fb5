package models

import (
	"context"
	"fmt"
	"net/url"

	"swissdata/internal/api"
	"swissdata/internal/deco"
	"swissdata/internal/model"
)

// RuleUniqueByApp rejects an email or mobile already used by another user
// of the app.
const RuleUniqueByApp = "uniqueByApp"

// RegisterUniqueByApp installs the uniqueByApp rule on v. The rule asks
// the API whether the value exists and accepts it when it belongs to the
// instance itself.
func RegisterUniqueByApp(v *deco.Validator, client *api.Client) {
	v.Register(RuleUniqueByApp, "This %s already exists", func(ctx context.Context, in deco.RuleInput) (bool, error) {
		value, ok := in.Value.(string)
		if !ok || value == "" {
			return true, nil
		}
		key := in.Options.String("key")
		if key == "" {
			key = in.Field
		}
		resp, err := client.Get(ctx, "/user/exists/"+key+"/"+url.PathEscape(value), api.RequestOptions{})
		if err != nil {
			return false, err
		}
		var res struct {
			Exists bool   `json:"exists"`
			ID     string `json:"id"`
		}
		if err := api.DecodeInto(resp, &res); err != nil {
			return false, err
		}
		if res.ID != "" && in.Instance != nil && res.ID == in.Instance.ID {
			return true, nil
		}
		return !res.Exists, nil
	})
}

// AccountCreation is the answer to an account creation request. Token is
// set while the account waits for a validation code; User is set when the
// account was created right away.
type AccountCreation struct {
	Token                   string
	Expires                 string
	EmailValidated          bool
	MobileValidated         bool
	CreateAccountValidation string
	User                    *deco.Instance
}

// AccountRequest is sent along the user fields on account creation.
// ClientURL tells the API where validation links should point to.
type AccountRequest struct {
	Password  string
	ExtraData map[string]any
	ClientURL string
}

// CreateAccount posts the user fields and the password to
// /user/create-account.
func CreateAccount(ctx context.Context, users *model.Model, user *deco.Instance, req AccountRequest) (*AccountCreation, error) {
	body := map[string]any{"password": req.Password}
	if req.ExtraData != nil {
		body["extraData"] = req.ExtraData
	}
	if req.ClientURL != "" {
		body["clientUrl"] = req.ClientURL
	}
	saved, err := users.Save(ctx, user, "", model.SaveOptions{
		Route:        "/user/create-account",
		Body:         body,
		SkipResponse: true,
	})
	if err != nil {
		return nil, err
	}
	element, _ := saved.SaveResponse.(map[string]any)
	token, _ := element["token"].(string)
	if token == "" {
		return &AccountCreation{User: saved}, nil
	}
	res := &AccountCreation{Token: token}
	res.Expires, _ = element["expires"].(string)
	res.EmailValidated, _ = element["emailValidated"].(bool)
	res.MobileValidated, _ = element["mobileValidated"].(bool)
	res.CreateAccountValidation, _ = element["createAccountValidation"].(string)
	return res, nil
}

// ValidateAccountCreationToken confirms a pending account with the code
// received by email or mobile and returns the created user.
func ValidateAccountCreationToken(ctx context.Context, users *model.Model, token, method, code string) (*deco.Instance, error) {
	if method != "email" && method != "mobile" {
		return nil, fmt.Errorf("invalid validation method %q", method)
	}
	body := map[string]any{"token": token, method + "Code": code}
	resp, err := users.Client().Post(ctx, "/user/create-account", body, api.RequestOptions{})
	if err != nil {
		return nil, err
	}
	element, err := api.DecodeObject(resp)
	if err != nil {
		return nil, err
	}
	if element == nil {
		return nil, fmt.Errorf("%w: empty account response", api.ErrInvalidJSON)
	}
	return users.InstanceFromAPI(ctx, element)
}
