// Package gallery は撮影画像の保存先を提供する
//
// 撮影結果をディレクトリへ書き出し、file:// URI で参照できるようにする。
// 保持期間を過ぎた画像と最大枚数を超えた古い画像は自動で削除する。
// 時刻は clock.Clock から取得するため、テストでは clock.NewMock を使う。
package gallery
