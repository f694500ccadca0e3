package domain

import "github.com/go-playground/validator/v10"

// validate is the package-level validator instance used for step configs.
var validate = validator.New(validator.WithRequiredStructEnabled())
