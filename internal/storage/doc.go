/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage implements the on-disk cache behind the piece library.
// It manages one embedded SQLite database per cache directory (<cache>/library.sqlite) holding
// the checksum and name→offset index of every scanned parts archive plus a blob cache of decoded meshes.
// The cache is derived from the archives and is disposable: a corrupt file is backed up and rebuilt.
package storage
