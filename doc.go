// Package playback is a cross-platform native media decode engine.
//
// A PlayerBackend opens a network video/audio stream, decodes it on a
// dedicated background goroutine and exposes decoded BGRA video frames and
// interleaved float32 PCM samples to the host's render and audio goroutines
// without blocking either. The host owns everything above that line: playback
// UI, subtitle rendering, spatial audio placement, stereoscopic mapping.
//
// # Backends
//
// Three concrete backends ship with the package:
//
//   - MPVBackend (darwin/linux): dynamically loads libmpv via purego, drives
//     it from a decode goroutine and renders video frames in software. Audio
//     output is owned by libmpv itself for this backend.
//   - AudioStreamBackend (all platforms): pure-Go audio decode (WAV, MP3,
//     Ogg Vorbis) over http(s) or local files, delivering PCM through the
//     pull API.
//   - PatternBackend (all platforms): synthetic test pattern video plus a
//     tone generator, useful for exercising hosts without media files or
//     native libraries.
//
// Use NewPlatformBackend for the platform's default video-capable backend,
// or NewBackend to pick one explicitly.
//
// # Threading
//
// Each player owns one decode goroutine. Two more may call into it
// concurrently: a render goroutine polling HasNewVideoFrame/GetVideoFrame
// once per host frame, and an audio callback pulling GetAudioSamples at its
// own cadence. No host-facing call blocks; cross-thread exchange goes through
// atomics and two small fixed-size buffers (AudioRingBuffer,
// VideoFrameBuffer). Video and audio are not synchronized at the buffer
// level; align frames against AudioClock in the host.
package playback
