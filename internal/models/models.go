// Package models declares the built-in Swissdata entity types.
package models

import (
	"strings"

	"swissdata/internal/deco"
)

var (
	accessLevels  = []any{"all", "creator", "users", "usersWithRoles"}
	imagePreviews = deco.Options{
		"accepted":        []string{"image/*"},
		"previewsFormats": []string{"160", "320", "320:320"},
		"defaultPreview":  "320:320",
	}
)

// User is an account of the current app.
var User = deco.DefineWithOptions("/user", deco.ModelOptions{Label: fullName},
	deco.Field("id", deco.ID),
	deco.Field("firstname", deco.String).Required().Searchable().Sortable(),
	deco.Field("lastname", deco.String).Required().Searchable().Sortable(),
	deco.Field("email", deco.String).Required().Email().
		Rule(RuleUniqueByApp, deco.Options{"key": "email"}).Searchable(),
	deco.Field("emailValidated", deco.Boolean).Required().Default(false),
	deco.Field("mobile", deco.String).Required().
		Rule(RuleUniqueByApp, deco.Options{"key": "mobile"}).Searchable(),
	deco.Field("mobileValidated", deco.Boolean).Required().Default(false),
	deco.Field("requireDoubleAuth", deco.Boolean).Required().Default(false),
	deco.Field("roles", deco.Array).With(deco.Options{"type": "string"}).Default([]string{}),
	deco.Field("hideOnboarding", deco.Boolean).Default(false),
)

func fullName(inst *deco.Instance) string {
	var parts []string
	for _, k := range []string{"firstname", "lastname"} {
		if s, ok := inst.Get(k).(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return inst.ID
	}
	return strings.Join(parts, " ")
}

// Profile holds the personal details attached to a user.
var Profile = deco.Define("/profile",
	deco.Field("userId", deco.Model).With(deco.Options{"model": User}),
	deco.Field("picture", deco.File).With(imagePreviews),
	deco.Field("street", deco.String).Default(""),
	deco.Field("zip", deco.String).Default(""),
	deco.Field("city", deco.String).Default(""),
	deco.Field("country", deco.String).Default(""),
	deco.Field("company", deco.String).Default(""),
	deco.Field("department", deco.String).Default(""),
	deco.Field("metadata", deco.Array).With(deco.Options{
		"type": "object",
		"objectOptions": deco.Options{"keys": deco.Options{
			"key":   deco.Options{"type": "string"},
			"value": deco.Options{"type": "any"},
		}},
	}),
)

var appKeyOptions = deco.Options{
	"type": "object",
	"objectOptions": deco.Options{"keys": deco.Options{
		"key":     deco.Options{"type": "string"},
		"last4":   deco.Options{"type": "string"},
		"name":    deco.Options{"type": "string"},
		"expires": deco.Options{"type": "date", "dateFormat": deco.DefaultDateFormat},
		"active":  deco.Options{"type": "boolean"},
	}},
}

// App is a Swissdata application with its keys, registration policy and
// notification settings.
var App = deco.DefineWithOptions("/app", deco.ModelOptions{Label: nameLabel}, appFields()...)

func appFields() []*deco.FieldSpec {
	specs := []*deco.FieldSpec{
		deco.Field("id", deco.ID),
		deco.Field("name", deco.String).Required().Default("My New App").Searchable().Sortable(),
		deco.Field("description", deco.String).With(deco.Options{"textarea": true}),
		deco.Field("image", deco.File).With(imagePreviews),
	}
	for _, base := range []string{"primary", "accent"} {
		for _, variant := range []string{"", "Light", "Dark"} {
			specs = append(specs,
				deco.Field(base+"Color"+variant, deco.String),
				deco.Field(base+"ForegroundColor"+variant, deco.String),
			)
		}
	}
	specs = append(specs,
		deco.Field("publicKeys", deco.Array).With(appKeyOptions),
		deco.Field("privateKeys", deco.Array).With(appKeyOptions),
		deco.Field("openUserRegistration", deco.Boolean).Required(),
		deco.Field("createAccountValidation", deco.Select).With(deco.Options{
			"options": []any{"emailOrMobile", "emailAndMobile", "emailOnly", "mobileOnly", "none"},
		}).Required().Default("emailOrMobile"),
		deco.Field("requireDoubleAuth", deco.Boolean).Default(true),
		deco.Field("doubleAuthMethod", deco.Select).With(deco.Options{
			"options": []any{"auto", "email", "sms"},
		}).Default("auto"),
		deco.Field("availableRoles", deco.Array).With(deco.Options{"type": "string"}).Default([]string{"admin", "user", "shop"}),
		deco.Field("adminUserRoles", deco.Array).With(deco.Options{"type": "string"}).Default([]string{"admin", "user"}),
		deco.Field("adminShopRoles", deco.Array).With(deco.Options{"type": "string"}).Default([]string{"admin", "shop"}),
		deco.Field("adminThreeRoles", deco.Array).With(deco.Options{"type": "string"}).Default([]string{"admin", "three"}),
		deco.Field("enableShop", deco.Boolean).Default(false),
		deco.Field("enableMultipleShops", deco.Boolean).Default(false),
		deco.Field("enableThree", deco.Boolean).Default(false),
		deco.Field("locales", deco.Array).With(deco.Options{"type": "string"}).Default([]string{"fr", "en"}),
		deco.Field("defaultLocale", deco.String).Default("fr"),
		deco.Field("smtpConfigHost", deco.String),
		deco.Field("smtpConfigPort", deco.Integer).Default(587),
		deco.Field("smtpConfigUser", deco.String),
		deco.Field("smtpConfigPassword", deco.String),
		deco.Field("smtpConfigSecure", deco.Boolean).Default(false),
		deco.Field("smtpConfigFromName", deco.String),
		deco.Field("smtpConfigFromEmail", deco.String),
		deco.Field("pushEnabled", deco.Boolean).Default(false),
		deco.Field("pushGmId", deco.String),
		deco.Field("pushApnCert", deco.String),
		deco.Field("pushApnKey", deco.String),
		deco.Field("pushApnPass", deco.String),
		deco.Field("pushApnProduction", deco.Boolean).Default(false),
		deco.Field("pushTopic", deco.String),
	)
	return specs
}

func nameLabel(inst *deco.Instance) string {
	if s, ok := inst.Get("name").(string); ok && s != "" {
		return s
	}
	return inst.ID
}

// DynamicConfig is the stored definition of a dynamic model.
var DynamicConfig = deco.DefineWithOptions("/dynamicconfig", deco.ModelOptions{Label: nameLabel},
	deco.Field("id", deco.ID),
	deco.Field("relatedToAppId", deco.Model).With(deco.Options{"model": App}).Required(),
	deco.Field("name", deco.String).Required().Searchable(),
	deco.Field("slug", deco.String).Slug().Searchable(),
	deco.Field("label", deco.String),
	deco.Field("isPublic", deco.Boolean).Default(false),
	deco.Field("readingAccess", deco.Select).With(deco.Options{"options": accessLevels}).Default("all"),
	deco.Field("readingRoles", deco.Array).With(deco.Options{"type": "string"}),
	deco.Field("writingAccess", deco.Select).With(deco.Options{"options": accessLevels}).Default("all"),
	deco.Field("writingRoles", deco.Array).With(deco.Options{"type": "string"}),
	deco.Field("fields", deco.Array).With(deco.Options{
		"type": "object",
		"objectOptions": deco.Options{
			"keys": deco.Options{
				"name":       deco.Options{"type": "string"},
				"type":       deco.Options{"type": "string"},
				"options":    deco.Options{"type": "any"},
				"validation": deco.Options{"type": "any"},
				"required":   deco.Options{"type": "boolean"},
			},
			"allowOtherKeys": true,
		},
	}),
	deco.Field("enableAdminNotification", deco.Boolean).Default(false),
	deco.Field("enableUserNotification", deco.Boolean).Default(false),
	deco.Field("notificationType", deco.Select).With(deco.Options{"options": []any{"email"}, "multiple": true}),
	deco.Field("notifyWhen", deco.Select).With(deco.Options{"options": []any{"create", "edit", "delete"}, "multiple": true}),
	deco.Field("notificationAdminEmail", deco.String),
	deco.Field("notificationAdminSubject", deco.String),
	deco.Field("notificationAdminContentPrefix", deco.String),
	deco.Field("notificationAdminContentSuffix", deco.String),
	deco.Field("notificationUserField", deco.String),
	deco.Field("notificationUserSubject", deco.String),
	deco.Field("notificationUserContentPrefix", deco.String),
	deco.Field("notificationUserContentSuffix", deco.String),
	deco.Field("policy", deco.Any),
)

// Analytics is one navigation or interaction event.
var Analytics = deco.Define("/analytics",
	deco.Field("sessionId", deco.String).Required(),
	deco.Field("identity", deco.String),
	deco.Field("type", deco.String).Required().Default("navigation"),
	deco.Field("path", deco.String).Required(),
	deco.Field("category", deco.String),
	deco.Field("action", deco.String),
	deco.Field("title", deco.String),
	deco.Field("value", deco.String),
)

// Dico is a translation entry.
var Dico = deco.Define("/dico",
	deco.Field("id", deco.ID),
	deco.Field("key", deco.String).Required().Searchable().Sortable(),
	deco.Field("value", deco.String).With(deco.Options{"textarea": true, "multilang": true, "locales": []string{"fr", "en"}}).Required(),
	deco.Field("tags", deco.Array).With(deco.Options{"type": "string"}).Default([]string{}),
)
