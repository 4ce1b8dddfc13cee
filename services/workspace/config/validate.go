// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
)

// validate is shared by every Config. Initialized in init() with the
// custom rules below.
var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("posenc", validatePositionEncoding)
	_ = validate.RegisterValidation("language", validateLanguage)
}

// validatePositionEncoding accepts utf-8, utf-16 and utf-32.
func validatePositionEncoding(fl validator.FieldLevel) bool {
	return ast.PositionEncoding(fl.Field().String()).Valid()
}

// validateLanguage accepts languages with a registered grammar.
func validateLanguage(fl validator.FieldLevel) bool {
	_, err := ast.DefaultGrammars().Get(fl.Field().String())
	return err == nil
}
