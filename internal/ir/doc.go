// Package ir provides the core data types shared by every varpol package.
//
// This package contains type definitions and their binary encodings only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Namespaces are stored in firmware (mixed-endian) GUID byte order
//   - Variable names are sequences of UTF-16 code units; Go strings are
//     converted at the encoding boundary only
//   - All multi-byte integers in encoded forms are little-endian
//   - Encoded policy entries are self-describing: consumers walk a dump
//     using the Size and OffsetToName fields, never fixed strides
package ir
