// Copyright 2025 UltrAI
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives a deterministic cache key from the request identity:
// the prompt, the selected model set, the pattern name, and any options.
// Model and option order do not affect the key.
func Fingerprint(prompt string, models []string, pattern string, options map[string]string) string {
	sortedModels := make([]string, len(models))
	copy(sortedModels, models)
	sort.Strings(sortedModels)

	optionKeys := make([]string, 0, len(options))
	for k := range options {
		optionKeys = append(optionKeys, k)
	}
	sort.Strings(optionKeys)

	h := sha256.New()
	// Length-prefix each field so concatenations cannot collide
	writeField := func(s string) {
		fmt.Fprintf(h, "%d:%s;", len(s), s)
	}

	writeField(prompt)
	writeField(pattern)
	writeField(strings.Join(sortedModels, ","))
	for _, k := range optionKeys {
		writeField(k + "=" + options[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}
