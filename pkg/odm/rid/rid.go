// Copyright 2025 UMH Systems GmbH
//
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

// Package rid parses and formats record identities of the form "#cluster:position".
package rid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidRID = errors.New("invalid record id")

// RID identifies a stored record.
type RID struct {
	Cluster  int16
	Position int64
}

// Parse accepts "#12:3" and "12:3".
func Parse(s string) (RID, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")

	clusterPart, positionPart, ok := strings.Cut(raw, ":")
	if !ok || clusterPart == "" || positionPart == "" {
		return RID{}, fmt.Errorf("%w: %q", ErrInvalidRID, s)
	}

	cluster, err := strconv.ParseInt(clusterPart, 10, 16)
	if err != nil {
		return RID{}, fmt.Errorf("%w: %q: cluster: %w", ErrInvalidRID, s, err)
	}

	position, err := strconv.ParseInt(positionPart, 10, 64)
	if err != nil {
		return RID{}, fmt.Errorf("%w: %q: position: %w", ErrInvalidRID, s, err)
	}

	return RID{Cluster: int16(cluster), Position: position}, nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(s string) RID {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return r
}

// Normalize returns the canonical "#c:p" form of s.
func Normalize(s string) (string, error) {
	r, err := Parse(s)
	if err != nil {
		return "", err
	}

	return r.String(), nil
}

// IsValid reports whether s parses as a RID.
func IsValid(s string) bool {
	_, err := Parse(s)

	return err == nil
}

func (r RID) String() string {
	return "#" + strconv.FormatInt(int64(r.Cluster), 10) + ":" + strconv.FormatInt(r.Position, 10)
}

// Path is the form used in REST paths, without the leading '#'.
func (r RID) Path() string {
	return strings.TrimPrefix(r.String(), "#")
}

// IsTemporary reports whether the server has not assigned a real position yet.
func (r RID) IsTemporary() bool {
	return r.Cluster < 0 || r.Position < 0
}
